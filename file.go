package fatfs

// Mode names the open_file_in_dir access mode, matching spec.md 4.5's six
// named modes.
type Mode uint8

const (
	// ModeReadOnly opens an existing file for reading only.
	ModeReadOnly Mode = iota
	// ModeReadWriteAppend opens an existing file for read/write, with the
	// initial offset at end-of-file.
	ModeReadWriteAppend
	// ModeReadWriteTruncate opens an existing file for read/write,
	// discarding its contents and freeing every cluster of its chain except
	// the first, which stays allocated as end-of-chain.
	ModeReadWriteTruncate
	// ModeReadWriteCreate creates a new file for read/write; fails with
	// AlreadyExists if one is already there.
	ModeReadWriteCreate
	// ModeReadWriteCreateOrAppend opens for read/write, creating the file
	// if absent and otherwise appending.
	ModeReadWriteCreateOrAppend
	// ModeReadWriteCreateOrTruncate opens for read/write, creating the file
	// if absent and otherwise truncating it.
	ModeReadWriteCreateOrTruncate
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "read-only"
	case ModeReadWriteAppend:
		return "read-write-append"
	case ModeReadWriteTruncate:
		return "read-write-truncate"
	case ModeReadWriteCreate:
		return "read-write-create"
	case ModeReadWriteCreateOrAppend:
		return "read-write-create-or-append"
	case ModeReadWriteCreateOrTruncate:
		return "read-write-create-or-truncate"
	default:
		return "unknown mode"
	}
}

func (m Mode) writable() bool { return m != ModeReadOnly }

func (m Mode) createOK() bool {
	return m == ModeReadWriteCreate || m == ModeReadWriteCreateOrAppend || m == ModeReadWriteCreateOrTruncate
}

func (m Mode) truncateOnOpen() bool {
	return m == ModeReadWriteTruncate || m == ModeReadWriteCreateOrTruncate
}

func (m Mode) appendOnOpen() bool {
	return m == ModeReadWriteAppend || m == ModeReadWriteCreateOrAppend
}

func (m *VolumeManager) file(h FileHandle) (*fileSlot, error) {
	if int(h.idx) >= len(m.files) {
		return nil, newErr("", KindBadHandle)
	}
	s := &m.files[h.idx]
	if !s.used || s.gen != h.gen || h.gen == 0 {
		return nil, newErr("", KindBadHandle)
	}
	return s, nil
}

// OpenFileInDir opens the file named name inside dh with the given mode. At
// most one writable handle may be open on a given file at a time (spec.md 9:
// KindFileAlreadyOpen); any number of read-only handles may coexist with it.
func (m *VolumeManager) OpenFileInDir(dh DirHandle, name string, mode Mode) (FileHandle, error) {
	ds, err := m.dir(dh)
	if err != nil {
		return FileHandle{}, err
	}
	vs, err := m.volume(ds.vol)
	if err != nil {
		return FileHandle{}, err
	}
	v := &vs.desc

	entry, found, err := m.findByName(v, ds.loc, name)
	if err != nil {
		return FileHandle{}, err
	}
	if found && entry.IsDir {
		return FileHandle{}, newErrf("OpenFileInDir", KindIsADirectory, "%q", name)
	}
	if found && mode == ModeReadWriteCreate {
		return FileHandle{}, newErrf("OpenFileInDir", KindAlreadyExists, "%q", name)
	}
	if !found {
		if !mode.createOK() {
			return FileHandle{}, newErrf("OpenFileInDir", KindNotFound, "%q", name)
		}
		if _, _, err := m.createEntry(v, ds.loc, name, false, m.time.Now()); err != nil {
			return FileHandle{}, err
		}
		entry, found, err = m.findByName(v, ds.loc, name)
		if err != nil {
			return FileHandle{}, err
		}
		if !found {
			return FileHandle{}, newErr("OpenFileInDir", KindCorruptFilesystem)
		}
	}

	if mode.writable() {
		for i := range m.files {
			fs := &m.files[i]
			if fs.used && fs.vol == ds.vol && fs.parentLoc == ds.loc && fs.entrySlot == entry.slot && fs.mode.writable() {
				return FileHandle{}, newErrf("OpenFileInDir", KindFileAlreadyOpen, "%q", name)
			}
		}
	}

	slotIdx := -1
	for i := range m.files {
		if !m.files[i].used {
			slotIdx = i
			break
		}
	}
	if slotIdx < 0 {
		return FileHandle{}, newErr("OpenFileInDir", KindTooManyOpenFiles)
	}

	startCluster, size := entry.cluster, entry.Size
	if mode.truncateOnOpen() && (startCluster != 0 || size != 0) {
		if startCluster != 0 {
			if err := m.truncateChain(v, startCluster); err != nil {
				return FileHandle{}, err
			}
		}
		size = 0
		raw, end, err := m.rawSlot(v, ds.loc, entry.slot)
		if err != nil {
			return FileHandle{}, err
		}
		if !end {
			d := shortDirEnt{b: raw}
			d.setSize(0)
			m.cache.markDirty()
			if err := m.cache.sync(); err != nil {
				return FileHandle{}, err
			}
		}
	}

	offset := uint32(0)
	if mode.appendOnOpen() {
		offset = size
	}

	gen := m.allocGen()
	m.files[slotIdx] = fileSlot{
		used: true, gen: gen, vol: ds.vol, dir: dh,
		parentLoc: ds.loc, entrySlot: entry.slot,
		startCluster: startCluster, size: size, mode: mode, offset: offset,
		cachedCluster: startCluster, cachedValid: startCluster != 0,
	}
	m.trace("opened file", "name", name, "mode", mode, "size", size)
	return FileHandle{idx: uint8(slotIdx), gen: gen}, nil
}

// clusterForOffset resolves the cluster holding byte-index idx*clusterSize
// into fs's chain, using the slot's single-step cache for the common
// sequential-access case. With extend set it grows the chain (allocating a
// new cluster) past the current end rather than failing.
func (m *VolumeManager) clusterForOffset(v *volumeDescriptor, fs *fileSlot, idx uint32, extend bool) (uint32, error) {
	if fs.cachedValid && idx == fs.cachedIdx {
		return fs.cachedCluster, nil
	}
	if fs.cachedValid && idx == fs.cachedIdx+1 {
		next, ok, err := m.nextCluster(v, fs.cachedCluster)
		if err != nil {
			return 0, err
		}
		if !ok {
			if !extend {
				return 0, newErr("clusterForOffset", KindCorruptFilesystem)
			}
			next, err = m.allocateCluster(v, fs.cachedCluster)
			if err != nil {
				return 0, err
			}
		}
		fs.cachedIdx, fs.cachedCluster = idx, next
		return next, nil
	}
	c := fs.startCluster
	for i := uint32(0); i < idx; i++ {
		next, ok, err := m.nextCluster(v, c)
		if err != nil {
			return 0, err
		}
		if !ok {
			if !extend {
				return 0, newErr("clusterForOffset", KindCorruptFilesystem)
			}
			next, err = m.allocateCluster(v, c)
			if err != nil {
				return 0, err
			}
		}
		c = next
	}
	fs.cachedIdx, fs.cachedCluster, fs.cachedValid = idx, c, true
	return c, nil
}

// Read fills buf from fh's current offset, stopping at end-of-file. It
// returns (0, nil) at end-of-file rather than an error.
func (m *VolumeManager) Read(fh FileHandle, buf []byte) (int, error) {
	fs, err := m.file(fh)
	if err != nil {
		return 0, err
	}
	vs, err := m.volume(fs.vol)
	if err != nil {
		return 0, err
	}
	v := &vs.desc
	clusterBytes := uint32(v.blocksPerCluster) * uint32(v.bytesPerBlock)

	n := 0
	for n < len(buf) && fs.offset < fs.size {
		idx := fs.offset / clusterBytes
		c, err := m.clusterForOffset(v, fs, idx, false)
		if err != nil {
			return n, err
		}
		byteInCluster := fs.offset % clusterBytes
		block := v.clusterToBlock(c) + int64(byteInCluster/uint32(v.bytesPerBlock))
		offInBlock := int(byteInCluster % uint32(v.bytesPerBlock))
		if err := m.cache.window(block); err != nil {
			return n, err
		}
		toCopy := len(buf) - n
		if room := int(v.bytesPerBlock) - offInBlock; toCopy > room {
			toCopy = room
		}
		if remain := int(fs.size - fs.offset); toCopy > remain {
			toCopy = remain
		}
		copy(buf[n:n+toCopy], m.cache.buf[offInBlock:offInBlock+toCopy])
		n += toCopy
		fs.offset += uint32(toCopy)
	}
	return n, nil
}

// Write writes data at fh's current offset, extending the file's cluster
// chain and size as needed, and advances the offset. Gap bytes created by a
// seek past end-of-file followed by a write are left unspecified (spec.md 9
// open question 1): this engine leaves whatever the newly allocated clusters
// already contain.
func (m *VolumeManager) Write(fh FileHandle, data []byte) (int, error) {
	fs, err := m.file(fh)
	if err != nil {
		return 0, err
	}
	if !fs.mode.writable() {
		return 0, newErr("Write", KindReadOnly)
	}
	vs, err := m.volume(fs.vol)
	if err != nil {
		return 0, err
	}
	v := &vs.desc
	clusterBytes := uint32(v.blocksPerCluster) * uint32(v.bytesPerBlock)

	n := 0
	for n < len(data) {
		if fs.startCluster == 0 {
			c, err := m.allocateCluster(v, 0)
			if err != nil {
				return n, err
			}
			fs.startCluster = c
			fs.cachedIdx, fs.cachedCluster, fs.cachedValid = 0, c, true
		}
		idx := fs.offset / clusterBytes
		c, err := m.clusterForOffset(v, fs, idx, true)
		if err != nil {
			return n, err
		}
		byteInCluster := fs.offset % clusterBytes
		block := v.clusterToBlock(c) + int64(byteInCluster/uint32(v.bytesPerBlock))
		offInBlock := int(byteInCluster % uint32(v.bytesPerBlock))
		if err := m.cache.window(block); err != nil {
			return n, err
		}
		toCopy := len(data) - n
		if room := int(v.bytesPerBlock) - offInBlock; toCopy > room {
			toCopy = room
		}
		copy(m.cache.buf[offInBlock:offInBlock+toCopy], data[n:n+toCopy])
		m.cache.markDirty()
		if err := m.cache.sync(); err != nil {
			return n, err
		}
		n += toCopy
		fs.offset += uint32(toCopy)
		if fs.offset > fs.size {
			fs.size = fs.offset
			fs.sizeChanged = true
		}
	}
	if n > 0 {
		fs.dirty = true
	}
	return n, nil
}

// SeekFromStart moves fh's offset to an absolute position. The position may
// lie past end-of-file: seeking never changes the file's length, and a later
// Write at that position extends the file.
func (m *VolumeManager) SeekFromStart(fh FileHandle, offset uint32) error {
	fs, err := m.file(fh)
	if err != nil {
		return err
	}
	fs.offset = offset
	return nil
}

// SeekFromCurrent moves fh's offset by delta relative to its current
// position. The result may lie past end-of-file, but not before the start of
// the file or beyond the 32-bit offset range.
func (m *VolumeManager) SeekFromCurrent(fh FileHandle, delta int32) error {
	fs, err := m.file(fh)
	if err != nil {
		return err
	}
	next := int64(fs.offset) + int64(delta)
	if next < 0 || next > int64(^uint32(0)) {
		return newErr("SeekFromCurrent", KindInvalidOffset)
	}
	fs.offset = uint32(next)
	return nil
}

// SeekFromEnd moves fh's offset to delta bytes before end-of-file.
func (m *VolumeManager) SeekFromEnd(fh FileHandle, delta uint32) error {
	fs, err := m.file(fh)
	if err != nil {
		return err
	}
	if delta > fs.size {
		return newErr("SeekFromEnd", KindInvalidOffset)
	}
	fs.offset = fs.size - delta
	return nil
}

// FileLength reports fh's current size in bytes.
func (m *VolumeManager) FileLength(fh FileHandle) (uint32, error) {
	fs, err := m.file(fh)
	if err != nil {
		return 0, err
	}
	return fs.size, nil
}

// IsEOF reports whether fh's offset is at end-of-file.
func (m *VolumeManager) IsEOF(fh FileHandle) (bool, error) {
	fs, err := m.file(fh)
	if err != nil {
		return false, err
	}
	return fs.offset >= fs.size, nil
}

// flushFileMeta writes fs's current size and starting cluster back into its
// directory entry, if either has changed since open.
func (m *VolumeManager) flushFileMeta(v *volumeDescriptor, fs *fileSlot) error {
	if !fs.dirty && !fs.sizeChanged {
		return nil
	}
	raw, end, err := m.rawSlot(v, fs.parentLoc, fs.entrySlot)
	if err != nil {
		return err
	}
	if end {
		return newErr("flushFileMeta", KindCorruptFilesystem)
	}
	d := shortDirEnt{b: raw}
	d.setCluster(fs.startCluster)
	d.setSize(fs.size)
	date, tm := fatDateTime(m.time.Now())
	d.setModified(date, tm)
	m.cache.markDirty()
	return m.cache.sync()
}

// CloseFile flushes fh's pending size/cluster changes and releases it. The
// slot is released even if the flush fails; the error is still returned
// (spec.md 7).
func (m *VolumeManager) CloseFile(fh FileHandle) error {
	fs, err := m.file(fh)
	if err != nil {
		return err
	}
	var flushErr error
	if vs, verr := m.volume(fs.vol); verr != nil {
		flushErr = verr
	} else {
		flushErr = m.flushFileMeta(&vs.desc, fs)
	}
	if flushErr != nil {
		m.logerror("file flush on close failed", flushErr)
	}
	fs.used = false
	return flushErr
}

// DeleteFileInDir removes the file named name from dh and frees its cluster
// chain. Deleting a non-empty directory is out of scope (spec.md 4.4); the
// caller gets IsADirectory for any directory entry.
func (m *VolumeManager) DeleteFileInDir(dh DirHandle, name string) error {
	ds, err := m.dir(dh)
	if err != nil {
		return err
	}
	vs, err := m.volume(ds.vol)
	if err != nil {
		return err
	}
	v := &vs.desc

	entry, found, err := m.findByName(v, ds.loc, name)
	if err != nil {
		return err
	}
	if !found {
		return newErrf("DeleteFileInDir", KindNotFound, "%q", name)
	}
	if entry.IsDir {
		return newErrf("DeleteFileInDir", KindIsADirectory, "%q", name)
	}
	for i := range m.files {
		fs := &m.files[i]
		if fs.used && fs.vol == ds.vol && fs.parentLoc == ds.loc && fs.entrySlot == entry.slot {
			return newErrf("DeleteFileInDir", KindFileAlreadyOpen, "%q", name)
		}
	}
	deleted, err := m.deleteEntry(v, ds.loc, name)
	if err != nil {
		return err
	}
	if deleted.cluster != 0 {
		return m.freeChain(v, deleted.cluster)
	}
	return nil
}
