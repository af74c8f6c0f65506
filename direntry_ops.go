package fatfs

// validateFilename rejects control characters and the reserved FAT glyphs
// anywhere in name, and the degenerate empty/"."/".." names.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return newErr("validateFilename", KindInvalidFilename)
	}
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b < 0x80 && isDisallowedNameChar(b) {
			return newErrf("validateFilename", KindInvalidFilename, "disallowed character %q", b)
		}
	}
	return nil
}

// shortNameExists reports whether candidate already appears as a short name
// anywhere in loc.
func (m *VolumeManager) shortNameExists(v *volumeDescriptor, loc dirLoc, candidate [11]byte) (bool, error) {
	found := false
	err := m.iterateDir(v, loc, func(e DirEntry) (bool, error) {
		if shortNameRenderEqual(e.ShortName, candidate) {
			found = true
			return true, nil
		}
		return false, nil
	})
	return found, err
}

// generateShortName derives the 8.3 short name for longName, appending a
// "~N" collision suffix (lowest N starting at 1) if needed, per spec.md 4.4.
func (m *VolumeManager) generateShortName(v *volumeDescriptor, loc dirLoc, longName string) ([11]byte, error) {
	if fits, short := fitsShortName(upperASCII(longName)); fits {
		exists, err := m.shortNameExists(v, loc, short)
		if err != nil {
			return short, err
		}
		if !exists {
			return short, nil
		}
	}
	base, baseLen, ext, extLen := makeBaseShortName(longName)
	for n := 1; n <= 999999; n++ {
		candidate := numberedShortName(base, baseLen, ext, extLen, n)
		exists, err := m.shortNameExists(v, loc, candidate)
		if err != nil {
			return candidate, err
		}
		if !exists {
			return candidate, nil
		}
	}
	return [11]byte{}, newErr("generateShortName", KindDirectoryFull)
}

// findFreeRun scans loc for `want` contiguous free-or-deleted slots,
// growing the directory by one cluster at a time if the extent runs out
// (chains only; a fixed FAT16 root cannot grow and fails DirectoryFull).
func (m *VolumeManager) findFreeRun(v *volumeDescriptor, loc dirLoc, want uint32) (start uint32, err error) {
	runStart := uint32(0)
	runLen := uint32(0)
	for slot := uint32(0); ; slot++ {
		raw, end, err := m.rawSlot(v, loc, slot)
		if err != nil {
			return 0, err
		}
		if end {
			if loc.fixed {
				return 0, newErr("findFreeRun", KindDirectoryFull)
			}
			if _, err := m.growDirectory(v, loc); err != nil {
				return 0, err
			}
			slot--
			continue
		}
		if raw[0] == direntFree || raw[0] == direntDeleted {
			if runLen == 0 {
				runStart = slot
			}
			runLen++
			if runLen >= want {
				return runStart, nil
			}
		} else {
			runLen = 0
		}
	}
}

// growDirectory appends one freshly zeroed cluster to the tail of loc's
// chain and returns its cluster id.
func (m *VolumeManager) growDirectory(v *volumeDescriptor, loc dirLoc) (uint32, error) {
	c := loc.startCluster
	for {
		next, ok, err := m.nextCluster(v, c)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		c = next
	}
	newC, err := m.allocateCluster(v, c)
	if err != nil {
		return 0, err
	}
	if err := m.zeroCluster(v, newC); err != nil {
		return 0, err
	}
	return newC, nil
}

// zeroCluster writes zero bytes across every block of cluster c.
func (m *VolumeManager) zeroCluster(v *volumeDescriptor, c uint32) error {
	for b := 0; b < int(v.blocksPerCluster); b++ {
		blk := v.clusterToBlock(c) + int64(b)
		if err := m.cache.window(blk); err != nil {
			return err
		}
		clear(m.cache.buf[:])
		m.cache.markDirty()
	}
	return m.cache.sync()
}

// dotDotTarget is the cluster value written into a new subdirectory's ".."
// entry: 0 when the parent is the volume root (by FAT convention, even on
// FAT32 where the root has a real cluster number), else the parent's own
// starting cluster.
func dotDotTarget(v *volumeDescriptor, parent dirLoc) uint32 {
	if parent.fixed {
		return 0
	}
	if v.kind == fatKind32 && parent.startCluster == v.rootCluster {
		return 0
	}
	return parent.startCluster
}

// seedDotEntries writes the "." and ".." entries into a freshly allocated,
// zeroed subdirectory cluster.
func (m *VolumeManager) seedDotEntries(v *volumeDescriptor, newCluster uint32, parent dirLoc, now Timestamp) error {
	date, tm := fatDateTime(now)
	block := v.clusterToBlock(newCluster)
	if err := m.cache.window(block); err != nil {
		return err
	}
	dot := shortDirEnt{b: m.cache.buf[0:sizeDirEntry]}
	dot.clear()
	dot.setShortName([11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '})
	dot.setAttrs(attrDir)
	dot.setCreated(date, tm)
	dot.setModified(date, tm)
	dot.setCluster(newCluster)

	dotdot := shortDirEnt{b: m.cache.buf[sizeDirEntry : 2*sizeDirEntry]}
	dotdot.clear()
	dotdot.setShortName([11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '})
	dotdot.setAttrs(attrDir)
	dotdot.setCreated(date, tm)
	dotdot.setModified(date, tm)
	dotdot.setCluster(dotDotTarget(v, parent))

	m.cache.markDirty()
	return m.cache.sync()
}

// createEntry creates a new file or subdirectory entry named name in loc,
// writing its LFN run (if any) and 8.3 entry. It does not check for an
// existing entry of the same name; callers do that first so they can
// return AlreadyExists without side effects.
func (m *VolumeManager) createEntry(v *volumeDescriptor, loc dirLoc, name string, isDir bool, now Timestamp) (short [11]byte, firstCluster uint32, err error) {
	if err := validateFilename(name); err != nil {
		return short, 0, err
	}
	units, nslots, err := encodeLFNUnits(name)
	if err != nil {
		return short, 0, err
	}
	short, err = m.generateShortName(v, loc, name)
	if err != nil {
		return short, 0, err
	}

	// A name that is itself already a valid, canonical short name needs
	// no LFN run at all.
	if fits, canonical := fitsShortName(name); fits && canonical == short {
		nslots = 0
	}

	total := uint32(nslots) + 1
	start, err := m.findFreeRun(v, loc, total)
	if err != nil {
		return short, 0, err
	}

	checksum := sumShortName(short)
	for i := 0; i < nslots; i++ {
		seq := nslots - i // descending: first-written entry carries the highest sequence number
		raw, _, err := m.rawSlot(v, loc, start+uint32(i))
		if err != nil {
			return short, 0, err
		}
		l := lfnEnt{b: raw}
		l.setSequence(uint8(seq), i == 0)
		l.setChecksum(checksum)
		var units13 [13]uint16
		copy(units13[:], units[(seq-1)*13:seq*13])
		l.putUnits(units13)
		m.cache.markDirty()
	}

	raw, _, err := m.rawSlot(v, loc, start+uint32(nslots))
	if err != nil {
		return short, 0, err
	}
	d := shortDirEnt{b: raw}
	d.clear()
	d.setShortName(short)
	attrs := attrArchive
	if isDir {
		attrs = attrDir
	}
	d.setAttrs(attrs)
	date, tm := fatDateTime(now)
	d.setCreated(date, tm)
	d.setModified(date, tm)
	d.setSize(0)
	m.cache.markDirty()
	if err := m.cache.sync(); err != nil {
		return short, 0, err
	}

	if isDir {
		newC, err := m.allocateCluster(v, 0)
		if err != nil {
			return short, 0, err
		}
		if err := m.zeroCluster(v, newC); err != nil {
			return short, 0, err
		}
		if err := m.seedDotEntries(v, newC, loc, now); err != nil {
			return short, 0, err
		}
		raw, _, err := m.rawSlot(v, loc, start+uint32(nslots))
		if err != nil {
			return short, 0, err
		}
		shortDirEnt{b: raw}.setCluster(newC)
		m.cache.markDirty()
		if err := m.cache.sync(); err != nil {
			return short, 0, err
		}
		firstCluster = newC
	}

	return short, firstCluster, nil
}

// deleteEntry marks the 8.3 entry named name, and every LFN fragment
// preceding it, as deleted (0xE5). It does not free the entry's cluster
// chain; callers do that separately once they know whether it is a file.
func (m *VolumeManager) deleteEntry(v *volumeDescriptor, loc dirLoc, name string) (DirEntry, error) {
	fits, short := fitsShortName(upperASCII(name))

	var lfnRunStart uint32
	haveLFNRun := false
	var lfnCount int
	var target DirEntry
	targetSlot := uint32(0)
	found := false

	err := func() error {
		var lfnUnits [maxLFNSlots * 13]uint16
		curLFNStart := uint32(0)
		curLFNCount := 0
		curHaveLFN := false

		for slot := uint32(0); ; slot++ {
			raw, end, err := m.rawSlot(v, loc, slot)
			if err != nil {
				return err
			}
			if end || raw[0] == direntFree {
				return nil
			}
			if raw[0] == direntDeleted {
				curHaveLFN = false
				continue
			}
			if attr(raw[11]) == attrLFN {
				l := lfnEnt{b: raw}
				seq := l.sequence()
				if seq == 0 || int(seq) > maxLFNSlots {
					curHaveLFN = false
					continue
				}
				if l.isLastLogical() {
					curLFNCount = int(seq)
					curLFNStart = slot
					curHaveLFN = true
					for i := range lfnUnits {
						lfnUnits[i] = 0
					}
				}
				if curHaveLFN && int(seq) <= curLFNCount {
					units := l.units()
					copy(lfnUnits[(int(seq)-1)*13:], units[:])
				}
				continue
			}
			d := shortDirEnt{b: raw}
			if d.isDotEntry() {
				curHaveLFN = false
				continue
			}
			longName := ""
			if curHaveLFN {
				if n, ok := decodeLFN(lfnUnits[:curLFNCount*13]); ok {
					longName = n
				}
			}
			matches := false
			if fits {
				matches = shortNameRenderEqual(renderShortName(d.shortName()), short)
			} else {
				matches = longName != "" && lfnNameEqual(name, longName)
			}
			if matches {
				target = DirEntry{
					ShortName: renderShortName(d.shortName()),
					IsDir:     d.attrs()&attrDir != 0,
					Size:      d.size(),
					cluster:   d.cluster(),
				}
				if longName != "" {
					target.Name = longName
				} else {
					target.Name = target.ShortName
				}
				targetSlot = slot
				haveLFNRun = curHaveLFN
				lfnRunStart = curLFNStart
				lfnCount = curLFNCount
				found = true
				return nil
			}
			curHaveLFN = false
		}
	}()
	if err != nil {
		return DirEntry{}, err
	}
	if !found {
		return DirEntry{}, newErr("deleteEntry", KindNotFound)
	}

	if haveLFNRun {
		for i := 0; i < lfnCount; i++ {
			raw, _, err := m.rawSlot(v, loc, lfnRunStart+uint32(i))
			if err != nil {
				return target, err
			}
			raw[0] = direntDeleted
			m.cache.markDirty()
		}
	}
	raw, _, err := m.rawSlot(v, loc, targetSlot)
	if err != nil {
		return target, err
	}
	shortDirEnt{b: raw}.b[0] = direntDeleted
	m.cache.markDirty()
	if err := m.cache.sync(); err != nil {
		return target, err
	}
	return target, nil
}
