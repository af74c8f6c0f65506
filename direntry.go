package fatfs

import (
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/embeddedfs/fatfs/internal/utf16x"
)

// sizeDirEntry is the fixed size of every directory entry slot, short-name
// or LFN alike.
const sizeDirEntry = 32

// attr is the attribute byte of a short-name directory entry.
type attr uint8

const (
	attrReadOnly attr = 1 << 0
	attrHidden   attr = 1 << 1
	attrSystem   attr = 1 << 2
	attrVolumeID attr = 1 << 3
	attrDir      attr = 1 << 4
	attrArchive  attr = 1 << 5
	// attrLFN marks an entry as a long-file-name fragment rather than a
	// short-name entry; it is the OR of read-only|hidden|system|volumeID.
	attrLFN attr = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

const (
	direntFree     = 0x00 // first byte: end of directory, no further entries
	direntDeleted  = 0xE5 // first byte: entry deleted, slot reusable
	direntEscapedE5 = 0x05 // first byte: real first character 0xE5, escaped
)

// shortDirEnt is a 32-byte short-name directory entry, viewed in place over
// a block-cache window. No allocation: callers pass a sub-slice of the
// cache's single scratch buffer.
type shortDirEnt struct {
	b []byte // len == sizeDirEntry
}

func (d shortDirEnt) firstByte() byte { return d.b[0] }

func (d shortDirEnt) isFree() bool    { return d.b[0] == direntFree }
func (d shortDirEnt) isDeleted() bool { return d.b[0] == direntDeleted }
func (d shortDirEnt) isLFN() bool     { return attr(d.b[11]) == attrLFN }
func (d shortDirEnt) isDotEntry() bool {
	return d.b[0] == '.' && !d.isLFN()
}

func (d shortDirEnt) shortName() [11]byte {
	var name [11]byte
	copy(name[:], d.b[0:11])
	if name[0] == direntEscapedE5 {
		name[0] = direntDeleted
	}
	return name
}

func (d shortDirEnt) setShortName(name [11]byte) {
	if name[0] == direntDeleted {
		name[0] = direntEscapedE5
	}
	copy(d.b[0:11], name[:])
}

func (d shortDirEnt) attrs() attr     { return attr(d.b[11]) }
func (d shortDirEnt) setAttrs(a attr) { d.b[11] = byte(a) }

func (d shortDirEnt) cluster() uint32 {
	hi := binary.LittleEndian.Uint16(d.b[20:22])
	lo := binary.LittleEndian.Uint16(d.b[26:28])
	return uint32(hi)<<16 | uint32(lo)
}

func (d shortDirEnt) setCluster(c uint32) {
	binary.LittleEndian.PutUint16(d.b[20:22], uint16(c>>16))
	binary.LittleEndian.PutUint16(d.b[26:28], uint16(c))
}

func (d shortDirEnt) size() uint32     { return binary.LittleEndian.Uint32(d.b[28:32]) }
func (d shortDirEnt) setSize(sz uint32) { binary.LittleEndian.PutUint32(d.b[28:32], sz) }

func (d shortDirEnt) setCreated(date, tm uint16) {
	binary.LittleEndian.PutUint16(d.b[16:18], date)
	binary.LittleEndian.PutUint16(d.b[14:16], tm)
	binary.LittleEndian.PutUint16(d.b[18:20], date) // access date, same resolution
}

func (d shortDirEnt) setModified(date, tm uint16) {
	binary.LittleEndian.PutUint16(d.b[24:26], date)
	binary.LittleEndian.PutUint16(d.b[22:24], tm)
}

func (d shortDirEnt) modified() (date, tm uint16) {
	return binary.LittleEndian.Uint16(d.b[24:26]), binary.LittleEndian.Uint16(d.b[22:24])
}

func (d shortDirEnt) clear() {
	clear(d.b[:sizeDirEntry])
}

// lfnEnt views one 32-byte LFN directory entry fragment.
type lfnEnt struct {
	b []byte // len == sizeDirEntry
}

const lfnLastEntryFlag = 0x40

func (l lfnEnt) sequence() uint8      { return l.b[0] &^ lfnLastEntryFlag }
func (l lfnEnt) isLastLogical() bool  { return l.b[0]&lfnLastEntryFlag != 0 }
func (l lfnEnt) isFree() bool         { return l.b[0] == direntFree }
func (l lfnEnt) isDeleted() bool      { return l.b[0] == direntDeleted }
func (l lfnEnt) checksum() byte       { return l.b[13] }

func (l lfnEnt) setSequence(seq uint8, last bool) {
	if last {
		seq |= lfnLastEntryFlag
	}
	l.b[0] = seq
	l.b[11] = byte(attrLFN)
	l.b[12] = 0
	l.b[26] = 0
	l.b[27] = 0
}

func (l lfnEnt) setChecksum(sum byte) { l.b[13] = sum }

// lfnUnitOffsets are the byte offsets of the 13 UCS-2 code units packed into
// one LFN entry, in logical (not storage) order.
var lfnUnitOffsets = [13]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// putUnits writes up to 13 UCS-2 units from units (padded with 0xFFFF past
// the terminator) into the entry.
func (l lfnEnt) putUnits(units [13]uint16) {
	for i, off := range lfnUnitOffsets {
		binary.LittleEndian.PutUint16(l.b[off:off+2], units[i])
	}
}

func (l lfnEnt) units() [13]uint16 {
	var units [13]uint16
	for i, off := range lfnUnitOffsets {
		units[i] = binary.LittleEndian.Uint16(l.b[off : off+2])
	}
	return units
}

// sumShortName implements the VFAT LFN checksum of an 11-byte short name:
// c = ((c & 1) << 7) + (c >> 1) + byte, unsigned 8-bit wraparound.
func sumShortName(name [11]byte) byte {
	var sum byte
	for _, b := range name {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// encodeLFNUnits converts a UTF-8 long name into up to maxLFNSlots*13 UCS-2
// units, zero-padded then 0xFFFF-padded per the VFAT convention. It returns
// KindInvalidFilename if the name contains a non-BMP codepoint or needs more
// than maxLFNSlots entries.
func encodeLFNUnits(name string) (units []uint16, nslots int, err error) {
	n := utf8.RuneCountInString(name)
	for _, r := range name {
		if r > utf16x.MaxRune || utf16.IsSurrogate(r) {
			return nil, 0, errNameNonBMP
		}
	}
	nslots = (n + 12) / 13
	if nslots == 0 {
		nslots = 1
	}
	if nslots > maxLFNSlots {
		return nil, 0, errNameTooLong
	}
	buf := make([]uint16, nslots*13)
	idx := 0
	for _, r := range name {
		buf[idx] = uint16(r)
		idx++
	}
	if idx < len(buf) {
		buf[idx] = 0x0000
		idx++
		for idx < len(buf) {
			buf[idx] = 0xFFFF
			idx++
		}
	}
	return buf, nslots, nil
}

// maxLFNSlots bounds a long name to 255 UCS-2 units (ceil(255/13) == 20
// entries), the VFAT maximum.
const maxLFNSlots = 20

var (
	errNameTooLong = newErr("", KindInvalidFilename)
	errNameNonBMP  = newErr("", KindInvalidFilename)
)
