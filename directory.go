package fatfs

import (
	"encoding/binary"

	"github.com/embeddedfs/fatfs/internal/utf16x"
)

// dirLoc names where a directory's entries live: either a FAT16 root's
// fixed block range, or an ordinary cluster chain (FAT32 root included).
type dirLoc struct {
	fixed      bool
	firstBlock int64 // fixed == true
	numBlocks  uint32

	startCluster uint32 // fixed == false
}

const entriesPerBlock = 512 / sizeDirEntry

// DirEntry is the composite, assembled view of one directory entry handed
// to an iterate_dir visitor: the short-name entry plus whatever long-file
// -name fragments preceded it.
type DirEntry struct {
	Name      string // long name if present, otherwise the rendered 8.3 name
	ShortName string // always the rendered 8.3 name, e.g. "ALONGF~1.TXT"
	IsDir     bool
	Size      uint32
	cluster   uint32
	slot      uint32 // index of the short-name 32-byte entry within its directory
	ModTime   Timestamp
}

// slotLoc resolves the slot'th 32-byte directory entry to an absolute
// block and byte offset. end is true if slot lies past the directory's
// current extent (fixed range exhausted, or the chain ended before
// reaching it).
func (m *VolumeManager) slotLoc(v *volumeDescriptor, loc dirLoc, slot uint32) (block int64, off int, end bool, err error) {
	if loc.fixed {
		total := loc.numBlocks * entriesPerBlock
		if slot >= total {
			return 0, 0, true, nil
		}
		return loc.firstBlock + int64(slot/entriesPerBlock), int(slot%entriesPerBlock) * sizeDirEntry, false, nil
	}
	entriesPerCluster := uint32(v.blocksPerCluster) * entriesPerBlock
	clusterIdx := slot / entriesPerCluster
	offInCluster := slot % entriesPerCluster
	c := loc.startCluster
	for i := uint32(0); i < clusterIdx; i++ {
		next, ok, err := m.nextCluster(v, c)
		if err != nil {
			return 0, 0, false, err
		}
		if !ok {
			return 0, 0, true, nil
		}
		c = next
	}
	blockInCluster := offInCluster / entriesPerBlock
	slotInBlock := offInCluster % entriesPerBlock
	return v.clusterToBlock(c) + int64(blockInCluster), int(slotInBlock) * sizeDirEntry, false, nil
}

// rawSlot returns a live sub-slice of the cache window covering the given
// slot; the cache must not be re-windowed before the caller is done using
// it (the usual single-block-cache discipline).
func (m *VolumeManager) rawSlot(v *volumeDescriptor, loc dirLoc, slot uint32) (raw []byte, end bool, err error) {
	block, off, end, err := m.slotLoc(v, loc, slot)
	if err != nil || end {
		return nil, end, err
	}
	if err := m.cache.window(block); err != nil {
		return nil, false, err
	}
	return m.cache.buf[off : off+sizeDirEntry], false, nil
}

// iterateDir walks loc in storage order, assembling LFN runs into composite
// DirEntry values and invoking visit for each. Iteration stops at the first
// free (0x00) entry, when visit returns stop == true, or at the end of the
// directory's extent.
func (m *VolumeManager) iterateDir(v *volumeDescriptor, loc dirLoc, visit func(DirEntry) (stop bool, err error)) error {
	var lfnUnits [maxLFNSlots * 13]uint16
	lfnCount := 0
	lfnChecksum := byte(0)
	haveLFN := false

	for slot := uint32(0); ; slot++ {
		raw, end, err := m.rawSlot(v, loc, slot)
		if err != nil {
			return err
		}
		if end {
			return nil
		}
		if raw[0] == direntFree {
			return nil
		}
		if raw[0] == direntDeleted {
			haveLFN = false
			lfnCount = 0
			continue
		}
		if attr(raw[11]) == attrLFN {
			l := lfnEnt{b: raw}
			seq := l.sequence()
			if seq == 0 || int(seq) > maxLFNSlots {
				haveLFN = false
				continue
			}
			if l.isLastLogical() {
				lfnCount = int(seq)
				haveLFN = true
				lfnChecksum = l.checksum()
				for i := range lfnUnits {
					lfnUnits[i] = 0
				}
			}
			if haveLFN && int(seq) <= lfnCount {
				units := l.units()
				copy(lfnUnits[(int(seq)-1)*13:], units[:])
			}
			continue
		}

		d := shortDirEnt{b: raw}
		if d.isDotEntry() {
			haveLFN = false
			continue
		}
		entry := DirEntry{
			ShortName: renderShortName(d.shortName()),
			IsDir:     d.attrs()&attrDir != 0,
			Size:      d.size(),
			cluster:   d.cluster(),
			slot:      slot,
		}
		if haveLFN && sumShortName(d.shortName()) == lfnChecksum {
			name, ok := decodeLFN(lfnUnits[:lfnCount*13])
			if ok {
				entry.Name = name
			} else {
				entry.Name = entry.ShortName
			}
		} else {
			entry.Name = entry.ShortName
		}
		date, tm := d.modified()
		entry.ModTime = parseFATDateTime(date, tm)
		haveLFN = false

		stop, err := visit(entry)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// decodeLFN converts an accumulated run of UCS-2 units (already in logical
// order) back to a UTF-8 string, stopping at the first 0x0000 terminator.
func decodeLFN(units []uint16) (string, bool) {
	var raw [maxLFNSlots * 13 * 2]byte
	n := 0
	for _, u := range units {
		if u == 0x0000 {
			break
		}
		if u == 0xFFFF {
			continue
		}
		binary.LittleEndian.PutUint16(raw[n:], u)
		n += 2
	}
	var out [maxLFNSlots * 13 * 3]byte // worst case 3 bytes of UTF-8 per BMP unit
	wn, err := utf16x.ToUTF8(out[:], raw[:n], binary.LittleEndian)
	if err != nil {
		return "", false
	}
	return string(out[:wn]), true
}

// renderShortName formats an 11-byte short name as "BASE.EXT" (no
// extension dot if the extension is empty).
func renderShortName(name [11]byte) string {
	base := trimSpaces(name[0:8])
	ext := trimSpaces(name[8:11])
	if len(ext) == 0 {
		return string(base)
	}
	out := make([]byte, 0, len(base)+1+len(ext))
	out = append(out, base...)
	out = append(out, '.')
	out = append(out, ext...)
	return string(out)
}

func trimSpaces(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}

// findByName scans loc for an entry whose name matches query, per spec.md
// 4.4: short-name compare if query already fits 8.3, else case-insensitive
// long-name compare.
func (m *VolumeManager) findByName(v *volumeDescriptor, loc dirLoc, query string) (DirEntry, bool, error) {
	fits, short := fitsShortName(upperASCII(query))
	var found DirEntry
	foundOK := false
	err := m.iterateDir(v, loc, func(e DirEntry) (bool, error) {
		if fits {
			if shortNameRenderEqual(e.ShortName, short) {
				found, foundOK = e, true
				return true, nil
			}
			return false, nil
		}
		if lfnNameEqual(query, e.Name) {
			found, foundOK = e, true
			return true, nil
		}
		return false, nil
	})
	return found, foundOK, err
}

func upperASCII(s string) string {
	b := []byte(s)
	for i := range b {
		b[i] = upperFold(b[i])
	}
	return string(b)
}

// shortNameRenderEqual compares a rendered "BASE.EXT" string against an
// 11-byte packed short name by re-rendering the packed form.
func shortNameRenderEqual(rendered string, packed [11]byte) bool {
	return rendered == renderShortName(packed)
}
