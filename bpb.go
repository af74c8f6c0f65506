package fatfs

import "encoding/binary"

// fatKind distinguishes FAT16 from FAT32 volumes. FAT12 is explicitly
// unsupported (spec.md 4.2: "If total clusters < 4085 the volume is
// invalid").
type fatKind uint8

const (
	fatKind16 fatKind = 16
	fatKind32 fatKind = 32
)

const (
	bpbSignatureOff = 510
	bpbSignature    = 0xAA55

	bpbBytesPerSectorOff  = 11
	bpbSectorsPerClustOff = 13
	bpbReservedSecOff     = 14
	bpbNumFATsOff         = 16
	bpbRootEntCountOff    = 17
	bpbTotalSec16Off      = 19
	bpbFATSz16Off         = 22
	bpbTotalSec32Off      = 32

	bpb32FATSz32Off      = 36
	bpb32RootClusterOff  = 44
	bpb32FSInfoSecOff    = 48

	minClustersFAT16     = 4085
	minClustersFAT32     = 65525
)

// volumeDescriptor is the immutable-after-mount geometry of one FAT volume,
// plus the small mutable free-cluster bookkeeping FSInfo caches. It is the
// Go shape of spec.md 3's "Volume descriptor".
type volumeDescriptor struct {
	kind fatKind

	bytesPerBlock    uint16
	blocksPerCluster uint8
	reservedBlocks   uint32
	numFATs          uint8
	fatLengthBlocks  uint32

	// FAT16 only: the root directory lives in a fixed block range, not a
	// cluster chain.
	rootDirFirstBlock int64
	rootDirBlocks     uint32
	rootDirEntries    uint16

	// FAT32 only: the root directory is an ordinary cluster chain.
	rootCluster uint32

	firstDataBlock int64
	totalClusters  uint32

	// partitionOffset is the absolute block address of the partition's
	// first block (block 0 of the volume as seen by BPB offsets).
	partitionOffset int64

	// fsInfoBlock is -1 when the volume is FAT16 (no FSInfo sector).
	fsInfoBlock int64

	// mutable, FAT32 only; see clusterFreeUnknown.
	freeClusterHint uint32
	nextFreeHint    uint32
}

const clusterFreeUnknown = 0xFFFFFFFF

// parseBPB decodes the first block of a partition (already read into sec,
// which must be exactly 512 bytes) into a volumeDescriptor. partitionOffset
// is the absolute block address that sec was read from.
func parseBPB(sec []byte, partitionOffset int64) (volumeDescriptor, error) {
	var v volumeDescriptor
	if len(sec) < 512 {
		return v, newErr("parseBPB", KindFormatError)
	}
	if binary.LittleEndian.Uint16(sec[bpbSignatureOff:]) != bpbSignature {
		return v, newErrf("parseBPB", KindFormatError, "missing 0xAA55 signature")
	}
	bytesPerSector := binary.LittleEndian.Uint16(sec[bpbBytesPerSectorOff:])
	if bytesPerSector != 512 {
		return v, newErrf("parseBPB", KindFormatError, "unsupported bytes-per-sector %d", bytesPerSector)
	}

	sectorsPerCluster := sec[bpbSectorsPerClustOff]
	reservedSectors := binary.LittleEndian.Uint16(sec[bpbReservedSecOff:])
	numFATs := sec[bpbNumFATsOff]
	rootEntCount := binary.LittleEndian.Uint16(sec[bpbRootEntCountOff:])
	totalSec16 := binary.LittleEndian.Uint16(sec[bpbTotalSec16Off:])
	fatSz16 := binary.LittleEndian.Uint16(sec[bpbFATSz16Off:])
	totalSec32 := binary.LittleEndian.Uint32(sec[bpbTotalSec32Off:])

	if sectorsPerCluster == 0 || numFATs == 0 {
		return v, newErr("parseBPB", KindFormatError)
	}

	totalSectors := uint32(totalSec16)
	if totalSectors == 0 {
		totalSectors = totalSec32
	}
	if totalSectors == 0 {
		return v, newErr("parseBPB", KindFormatError)
	}

	var fatSize uint32
	var rootDirBlocks uint32
	isFAT32 := fatSz16 == 0
	if isFAT32 {
		fatSize = binary.LittleEndian.Uint32(sec[bpb32FATSz32Off:])
		if fatSize == 0 {
			return v, newErr("parseBPB", KindFormatError)
		}
		v.rootCluster = binary.LittleEndian.Uint32(sec[bpb32RootClusterOff:])
		fsInfoSector := binary.LittleEndian.Uint16(sec[bpb32FSInfoSecOff:])
		v.fsInfoBlock = partitionOffset + int64(fsInfoSector)
	} else {
		fatSize = uint32(fatSz16)
		rootDirBlocks = (uint32(rootEntCount)*sizeDirEntry + 511) / 512
		v.fsInfoBlock = -1
	}

	firstFATBlock := int64(reservedSectors)
	firstDataBlock := firstFATBlock + int64(numFATs)*int64(fatSize) + int64(rootDirBlocks)
	dataSectors := int64(totalSectors) - firstDataBlock
	if dataSectors < 0 {
		return v, newErr("parseBPB", KindFormatError)
	}
	totalClusters := uint32(dataSectors / int64(sectorsPerCluster))

	if isFAT32 {
		if totalClusters < minClustersFAT32 {
			return v, newErrf("parseBPB", KindFormatError, "FAT32 volume has only %d clusters", totalClusters)
		}
		v.kind = fatKind32
	} else {
		if totalClusters < minClustersFAT16 {
			return v, newErrf("parseBPB", KindFormatError, "volume has %d clusters, below FAT16 minimum and FAT12 is unsupported", totalClusters)
		}
		if totalClusters >= minClustersFAT32 {
			return v, newErrf("parseBPB", KindFormatError, "sectors_per_fat_16 is nonzero but cluster count %d implies FAT32", totalClusters)
		}
		v.kind = fatKind16
		// Open question #2 (DESIGN.md): reject an over-claimed root entry
		// count that would not fit the computed block range.
		if rootDirBlocks == 0 || uint32(rootEntCount) > rootDirBlocks*(512/sizeDirEntry) {
			return v, newErrf("parseBPB", KindFormatError, "root entry count %d does not fit %d blocks", rootEntCount, rootDirBlocks)
		}
		v.rootDirFirstBlock = partitionOffset + firstFATBlock + int64(numFATs)*int64(fatSize)
		v.rootDirBlocks = rootDirBlocks
		v.rootDirEntries = rootEntCount
	}

	v.bytesPerBlock = 512
	v.blocksPerCluster = sectorsPerCluster
	v.reservedBlocks = uint32(reservedSectors)
	v.numFATs = numFATs
	v.fatLengthBlocks = fatSize
	v.firstDataBlock = partitionOffset + firstDataBlock
	v.totalClusters = totalClusters
	v.partitionOffset = partitionOffset
	v.freeClusterHint = clusterFreeUnknown
	v.nextFreeHint = 2

	return v, nil
}

// fatTableBlock returns the absolute block and the byte offset within that
// block holding the FAT entry for cluster c, for the fatIdx'th FAT copy
// (0-based).
func (v *volumeDescriptor) fatTableBlock(fatIdx int, c uint32) (block int64, byteOff int) {
	var entrySize int64
	if v.kind == fatKind32 {
		entrySize = 4
	} else {
		entrySize = 2
	}
	fatStart := v.partitionOffset + int64(v.reservedBlocks) + int64(fatIdx)*int64(v.fatLengthBlocks)
	byteIdx := int64(c) * entrySize
	block = fatStart + byteIdx/int64(v.bytesPerBlock)
	byteOff = int(byteIdx % int64(v.bytesPerBlock))
	return block, byteOff
}

// clusterToBlock returns the first absolute block of cluster c's data
// region. c must be >= 2.
func (v *volumeDescriptor) clusterToBlock(c uint32) int64 {
	return v.firstDataBlock + int64(c-2)*int64(v.blocksPerCluster)
}

// fsInfo is the FAT32 FSInfo sector, read/written in place over a 512-byte
// window like shortDirEnt/lfnEnt.
type fsInfo struct {
	b []byte // len == 512
}

const (
	fsInfoLeadSig     = 0x41615252
	fsInfoStructSig   = 0x61417272
	fsInfoTrailSig    = 0xAA550000
	fsInfoFreeCountOff = 488
	fsInfoNextFreeOff  = 492
)

func (f fsInfo) valid() bool {
	return binary.LittleEndian.Uint32(f.b[0:4]) == fsInfoLeadSig &&
		binary.LittleEndian.Uint32(f.b[484:488]) == fsInfoStructSig &&
		binary.LittleEndian.Uint32(f.b[508:512]) == fsInfoTrailSig
}

func (f fsInfo) freeCount() uint32 { return binary.LittleEndian.Uint32(f.b[fsInfoFreeCountOff:]) }
func (f fsInfo) setFreeCount(n uint32) {
	binary.LittleEndian.PutUint32(f.b[fsInfoFreeCountOff:], n)
}
func (f fsInfo) nextFree() uint32 { return binary.LittleEndian.Uint32(f.b[fsInfoNextFreeOff:]) }
func (f fsInfo) setNextFree(n uint32) {
	binary.LittleEndian.PutUint32(f.b[fsInfoNextFreeOff:], n)
}
