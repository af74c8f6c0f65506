package fatfs

import (
	"encoding/binary"

	"github.com/embeddedfs/fatfs/internal/mbr"
)

// ramDevice is an in-memory BlockDevice backed by a sparse block map,
// unwritten blocks reading back as zero. Grounded on the teacher's
// BlockMap/BytesBlocks test doubles.
type ramDevice struct {
	blocks map[int64][512]byte
}

func newRAMDevice() *ramDevice {
	return &ramDevice{blocks: make(map[int64][512]byte)}
}

func (d *ramDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	n := len(dst) / 512
	for i := 0; i < n; i++ {
		b := d.blocks[startBlock+int64(i)]
		copy(dst[i*512:(i+1)*512], b[:])
	}
	return len(dst), nil
}

func (d *ramDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	n := len(data) / 512
	for i := 0; i < n; i++ {
		var b [512]byte
		copy(b[:], data[i*512:(i+1)*512])
		d.blocks[startBlock+int64(i)] = b
	}
	return len(data), nil
}

func (d *ramDevice) NumBlocks() (int64, error) { return 1 << 20, nil }
func (d *ramDevice) BlockSize() int            { return 512 }

// fixedClock is a TimeSource that always reports the same Timestamp.
type fixedClock struct{ t Timestamp }

func (c fixedClock) Now() Timestamp { return c.t }

var testClock = fixedClock{t: Timestamp{Year: 2024, Month: 6, Day: 15, Hour: 12, Minute: 30, Second: 0}}

// fat16Geometry is the geometry baked into newFAT16Device: a small,
// freshly-formatted FAT16 volume starting at partition block 1 (block 0
// holds the MBR).
const (
	fat16PartitionOffset = 1
	fat16SectorsPerClust = 8
	fat16ReservedSectors = 1
	fat16NumFATs         = 2
	fat16RootEntCount    = 512
	fat16RootDirBlocks   = 32 // (512*32)/512
	fat16FATSizeSectors  = 17
	fat16TotalClusters   = 4200
	fat16DataSectors     = fat16TotalClusters * fat16SectorsPerClust
	fat16TotalSectors    = fat16ReservedSectors + fat16NumFATs*fat16FATSizeSectors + fat16RootDirBlocks + fat16DataSectors
	fat16FirstDataBlock  = fat16PartitionOffset + fat16ReservedSectors + fat16NumFATs*fat16FATSizeSectors + fat16RootDirBlocks
)

// newFAT16Device builds a minimal, valid, empty FAT16 volume (one MBR
// partition of type 0x0E) over a ramDevice, ready to OpenVolume(0).
func newFAT16Device() *ramDevice {
	dev := newRAMDevice()

	var mbrSec [512]byte
	pte := mbr.MakePTE(0, mbr.PartitionTypeFAT16LBA, fat16PartitionOffset, fat16TotalSectors, 0, 0)
	bs, err := mbr.ToBootSector(mbrSec[:])
	if err != nil {
		panic(err)
	}
	bs.SetPartitionTable(0, pte)
	binary.LittleEndian.PutUint16(mbrSec[510:], mbr.BootSignature)
	dev.WriteBlocks(mbrSec[:], 0)

	var bpbSec [512]byte
	binary.LittleEndian.PutUint16(bpbSec[bpbBytesPerSectorOff:], 512)
	bpbSec[bpbSectorsPerClustOff] = fat16SectorsPerClust
	binary.LittleEndian.PutUint16(bpbSec[bpbReservedSecOff:], fat16ReservedSectors)
	bpbSec[bpbNumFATsOff] = fat16NumFATs
	binary.LittleEndian.PutUint16(bpbSec[bpbRootEntCountOff:], fat16RootEntCount)
	binary.LittleEndian.PutUint16(bpbSec[bpbTotalSec16Off:], uint16(fat16TotalSectors))
	binary.LittleEndian.PutUint16(bpbSec[bpbFATSz16Off:], fat16FATSizeSectors)
	binary.LittleEndian.PutUint16(bpbSec[bpbSignatureOff:], bpbSignature)
	dev.WriteBlocks(bpbSec[:], fat16PartitionOffset)

	// Both FAT copies start with the two reserved entries: media
	// descriptor (0xFFF8) and an all-ones end-of-chain filler.
	var fat0 [512]byte
	binary.LittleEndian.PutUint16(fat0[0:2], 0xFFF8)
	binary.LittleEndian.PutUint16(fat0[2:4], 0xFFFF)
	fatStart := int64(fat16PartitionOffset + fat16ReservedSectors)
	dev.WriteBlocks(fat0[:], fatStart)
	dev.WriteBlocks(fat0[:], fatStart+fat16FATSizeSectors)

	return dev
}

// fat32Geometry mirrors fat16Geometry for a FAT32 volume: the root
// directory is an ordinary cluster chain starting at rootCluster, and a
// valid FSInfo sector sits at block fat32PartitionOffset+1.
const (
	fat32PartitionOffset = 1
	fat32SectorsPerClust = 8
	fat32ReservedSectors = 32
	fat32NumFATs         = 2
	fat32FATSizeSectors  = 512
	fat32RootCluster     = 2
	fat32TotalClusters   = 70000
	fat32DataSectors     = fat32TotalClusters * fat32SectorsPerClust
	fat32TotalSectors    = fat32ReservedSectors + fat32NumFATs*fat32FATSizeSectors + fat32DataSectors
	fat32FirstDataBlock  = fat32PartitionOffset + fat32ReservedSectors + fat32NumFATs*fat32FATSizeSectors
)

func newFAT32Device() *ramDevice {
	dev := newRAMDevice()

	var mbrSec [512]byte
	pte := mbr.MakePTE(0, mbr.PartitionTypeFAT32LBA, fat32PartitionOffset, fat32TotalSectors, 0, 0)
	bs, err := mbr.ToBootSector(mbrSec[:])
	if err != nil {
		panic(err)
	}
	bs.SetPartitionTable(0, pte)
	binary.LittleEndian.PutUint16(mbrSec[510:], mbr.BootSignature)
	dev.WriteBlocks(mbrSec[:], 0)

	var bpbSec [512]byte
	binary.LittleEndian.PutUint16(bpbSec[bpbBytesPerSectorOff:], 512)
	bpbSec[bpbSectorsPerClustOff] = fat32SectorsPerClust
	binary.LittleEndian.PutUint16(bpbSec[bpbReservedSecOff:], fat32ReservedSectors)
	bpbSec[bpbNumFATsOff] = fat32NumFATs
	binary.LittleEndian.PutUint16(bpbSec[bpbRootEntCountOff:], 0)
	binary.LittleEndian.PutUint16(bpbSec[bpbFATSz16Off:], 0) // zero marks FAT32
	binary.LittleEndian.PutUint32(bpbSec[bpbTotalSec32Off:], fat32TotalSectors)
	binary.LittleEndian.PutUint32(bpbSec[bpb32FATSz32Off:], fat32FATSizeSectors)
	binary.LittleEndian.PutUint32(bpbSec[bpb32RootClusterOff:], fat32RootCluster)
	binary.LittleEndian.PutUint16(bpbSec[bpb32FSInfoSecOff:], 1)
	binary.LittleEndian.PutUint16(bpbSec[bpbSignatureOff:], bpbSignature)
	dev.WriteBlocks(bpbSec[:], fat32PartitionOffset)

	var fsi [512]byte
	binary.LittleEndian.PutUint32(fsi[0:4], fsInfoLeadSig)
	binary.LittleEndian.PutUint32(fsi[484:488], fsInfoStructSig)
	binary.LittleEndian.PutUint32(fsi[488:492], clusterFreeUnknown)
	binary.LittleEndian.PutUint32(fsi[492:496], 3) // next-free hint, past the root cluster
	binary.LittleEndian.PutUint32(fsi[508:512], fsInfoTrailSig)
	dev.WriteBlocks(fsi[:], fat32PartitionOffset+1)

	var fat0 [512]byte
	binary.LittleEndian.PutUint32(fat0[0:4], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(fat0[4:8], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(fat0[8:12], 0x0FFFFFFF) // root directory's single cluster, EOC
	fatStart := int64(fat32PartitionOffset + fat32ReservedSectors)
	dev.WriteBlocks(fat0[:], fatStart)
	dev.WriteBlocks(fat0[:], fatStart+fat32FATSizeSectors)

	return dev
}
