package fatfs

import "encoding/binary"

const (
	clusterFree uint32 = 0

	clusterBad16 uint32 = 0xFFF7
	clusterBad32 uint32 = 0x0FFF_FFF7

	clusterEOCMin16 uint32 = 0xFFF8
	clusterEOCMin32 uint32 = 0x0FFF_FFF8

	clusterMask32 uint32 = 0x0FFF_FFFF // top 4 bits of a FAT32 entry are reserved
)

func (v *volumeDescriptor) isBad(c uint32) bool {
	if v.kind == fatKind16 {
		return c == clusterBad16
	}
	return c&clusterMask32 == clusterBad32
}

func (v *volumeDescriptor) isEOC(c uint32) bool {
	if v.kind == fatKind16 {
		return c >= clusterEOCMin16
	}
	return c&clusterMask32 >= clusterEOCMin32
}

// fatEntry reads the FAT entry for cluster c from the first FAT copy.
func (m *VolumeManager) fatEntry(v *volumeDescriptor, c uint32) (uint32, error) {
	block, off := v.fatTableBlock(0, c)
	if err := m.cache.window(block); err != nil {
		return 0, err
	}
	if v.kind == fatKind32 {
		return binary.LittleEndian.Uint32(m.cache.buf[off:off+4]) & clusterMask32, nil
	}
	return uint32(binary.LittleEndian.Uint16(m.cache.buf[off : off+2])), nil
}

// setFATEntry writes value into the FAT entry for cluster c, in every FAT
// copy the BPB declares (spec.md 4.3: "On write, updates every FAT copy").
func (m *VolumeManager) setFATEntry(v *volumeDescriptor, c uint32, value uint32) error {
	for i := 0; i < int(v.numFATs); i++ {
		block, off := v.fatTableBlock(i, c)
		if err := m.cache.window(block); err != nil {
			return err
		}
		if v.kind == fatKind32 {
			old := binary.LittleEndian.Uint32(m.cache.buf[off : off+4])
			merged := (value & clusterMask32) | (old &^ clusterMask32)
			binary.LittleEndian.PutUint32(m.cache.buf[off:off+4], merged)
		} else {
			binary.LittleEndian.PutUint16(m.cache.buf[off:off+2], uint16(value))
		}
		m.cache.markDirty()
		if err := m.cache.sync(); err != nil {
			return err
		}
	}
	return nil
}

// nextCluster follows one link in the chain starting at c. ok is false at
// end-of-chain; an error is returned if a bad-cluster marker or an
// out-of-range cluster id is hit mid-chain (spec.md 4.3/7: CorruptFilesystem).
func (m *VolumeManager) nextCluster(v *volumeDescriptor, c uint32) (next uint32, ok bool, err error) {
	entry, err := m.fatEntry(v, c)
	if err != nil {
		return 0, false, err
	}
	if v.isEOC(entry) {
		return 0, false, nil
	}
	if v.isBad(entry) || entry < 2 || entry > v.totalClusters+1 {
		return 0, false, newErrf("nextCluster", KindCorruptFilesystem, "bad chain link at cluster %d -> %#x", c, entry)
	}
	return entry, true, nil
}

// allocateCluster finds a free cluster via linear scan from the FSInfo
// next-free hint (FAT32) or cluster 2 (FAT16), wrapping once, marks it EOC,
// and if prev != 0 links prev -> the new cluster. Returns DeviceFull if the
// volume has no free clusters.
func (m *VolumeManager) allocateCluster(v *volumeDescriptor, prev uint32) (uint32, error) {
	start := uint32(2)
	if v.kind == fatKind32 && v.nextFreeHint >= 2 && v.nextFreeHint <= v.totalClusters+1 {
		start = v.nextFreeHint
	}
	found, err := m.scanFree(v, start)
	if err != nil {
		return 0, err
	}
	eoc := uint32(clusterEOCMin32)
	if v.kind == fatKind16 {
		eoc = clusterEOCMin16
	}
	if err := m.setFATEntry(v, found, eoc); err != nil {
		return 0, err
	}
	if prev != 0 {
		if err := m.setFATEntry(v, prev, found); err != nil {
			return 0, err
		}
	}
	if v.freeClusterHint != clusterFreeUnknown && v.freeClusterHint > 0 {
		v.freeClusterHint--
	}
	v.nextFreeHint = found + 1
	if err := m.flushFSInfo(v); err != nil {
		return 0, err
	}
	return found, nil
}

func (m *VolumeManager) scanFree(v *volumeDescriptor, start uint32) (uint32, error) {
	last := v.totalClusters + 1
	c := start
	wrapped := false
	for {
		entry, err := m.fatEntry(v, c)
		if err != nil {
			return 0, err
		}
		if entry == clusterFree {
			return c, nil
		}
		c++
		if c > last {
			if wrapped {
				return 0, newErr("scanFree", KindDeviceFull)
			}
			c = 2
			wrapped = true
		}
		if wrapped && c >= start {
			return 0, newErr("scanFree", KindDeviceFull)
		}
	}
}

// freeChain walks the chain starting at start, zeroing every entry
// (spec.md 4.3: "Chain free") and, when the free-cluster hint is known,
// adding the number of freed clusters to it.
func (m *VolumeManager) freeChain(v *volumeDescriptor, start uint32) error {
	c := start
	freed := uint32(0)
	for {
		entry, err := m.fatEntry(v, c)
		if err != nil {
			return err
		}
		if err := m.setFATEntry(v, c, clusterFree); err != nil {
			return err
		}
		freed++
		if v.isEOC(entry) {
			break
		}
		if v.isBad(entry) {
			return newErr("freeChain", KindCorruptFilesystem)
		}
		c = entry
		if freed > v.totalClusters {
			return newErr("freeChain", KindCorruptFilesystem)
		}
	}
	if v.freeClusterHint != clusterFreeUnknown {
		v.freeClusterHint += freed
	}
	return m.flushFSInfo(v)
}

// truncateChain keeps start itself allocated (restamped as end-of-chain) and
// frees every cluster after it, per spec.md 4.5's truncate-on-open behavior:
// "frees all but the first (left set to EOC)".
func (m *VolumeManager) truncateChain(v *volumeDescriptor, start uint32) error {
	if start == 0 {
		return nil
	}
	next, ok, err := m.nextCluster(v, start)
	if err != nil {
		return err
	}
	eoc := uint32(clusterEOCMin32)
	if v.kind == fatKind16 {
		eoc = clusterEOCMin16
	}
	if err := m.setFATEntry(v, start, eoc); err != nil {
		return err
	}
	if ok {
		return m.freeChain(v, next)
	}
	return nil
}

// flushFSInfo writes the current free-cluster/next-free hints to the FAT32
// FSInfo sector. It is a no-op on FAT16 volumes, which have none.
func (m *VolumeManager) flushFSInfo(v *volumeDescriptor) error {
	if v.kind != fatKind32 || v.fsInfoBlock < 0 {
		return nil
	}
	if err := m.cache.window(v.fsInfoBlock); err != nil {
		return err
	}
	fi := fsInfo{b: m.cache.buf[:]}
	if !fi.valid() {
		// Never seen a valid FSInfo sector: leave the hints unknown rather
		// than fabricate signatures on a structure we didn't initialize.
		return nil
	}
	fi.setFreeCount(v.freeClusterHint)
	fi.setNextFree(v.nextFreeHint)
	m.cache.markDirty()
	return m.cache.sync()
}
