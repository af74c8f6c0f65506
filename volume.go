package fatfs

import "github.com/embeddedfs/fatfs/internal/mbr"

// mountVolume reads the MBR at block 0 of dev, resolves the volumeIdx'th
// partition table entry, and parses its BPB into a volumeDescriptor. Per
// spec.md 4.1, only the MBR path is supported; a bare superfloppy BPB at
// block 0 is not.
func (m *VolumeManager) mountVolume(volumeIdx int) (volumeDescriptor, error) {
	if volumeIdx < 0 || volumeIdx > 3 {
		return volumeDescriptor{}, newErrf("mountVolume", KindFormatError, "volume index %d out of range 0..3", volumeIdx)
	}
	dev := m.dev
	if dev.BlockSize() != 512 {
		return volumeDescriptor{}, newErrf("mountVolume", KindFormatError, "unsupported block size %d", dev.BlockSize())
	}

	var mbrBuf [512]byte
	n, err := dev.ReadBlocks(mbrBuf[:], 0)
	if err != nil {
		return volumeDescriptor{}, wrapDeviceErr("mountVolume", err)
	}
	if n != len(mbrBuf) {
		return volumeDescriptor{}, wrapDeviceErr("mountVolume", errShortBlockRead)
	}

	bs, err := mbr.ToBootSector(mbrBuf[:])
	if err != nil || bs.BootSignature() != mbr.BootSignature {
		return volumeDescriptor{}, newErrf("mountVolume", KindFormatError, "missing MBR signature")
	}
	pte := bs.PartitionTable(volumeIdx)
	ptype := pte.PartitionType()
	if !ptype.IsFAT() {
		return volumeDescriptor{}, newErrf("mountVolume", KindFormatError, "partition %d has unrecognized type %#x", volumeIdx, byte(ptype))
	}
	partitionOffset := int64(pte.StartLBA())

	m.cache.reset(dev)
	if err := m.cache.window(partitionOffset); err != nil {
		return volumeDescriptor{}, err
	}
	vd, err := parseBPB(m.cache.buf[:], partitionOffset)
	if err != nil {
		return volumeDescriptor{}, err
	}
	if ptype.IsFAT16() != (vd.kind == fatKind16) {
		m.warn("partition type byte disagrees with BPB FAT kind", "partitionType", ptype, "bpbKind", vd.kind)
	}

	if vd.kind == fatKind32 {
		if err := m.cache.window(vd.fsInfoBlock); err != nil {
			return volumeDescriptor{}, err
		}
		fi := fsInfo{b: m.cache.buf[:]}
		if fi.valid() {
			if fc := fi.freeCount(); fc != clusterFreeUnknown {
				vd.freeClusterHint = fc
			}
			if nf := fi.nextFree(); nf >= 2 {
				vd.nextFreeHint = nf
			}
		}
	}
	return vd, nil
}

func (v *volumeDescriptor) rootDirLoc() dirLoc {
	if v.kind == fatKind16 {
		return dirLoc{fixed: true, firstBlock: v.rootDirFirstBlock, numBlocks: v.rootDirBlocks}
	}
	return dirLoc{startCluster: v.rootCluster}
}
