package fatfs

// blockCache is the single-block scratch buffer spec.md 4/5 calls for: one
// window shared by the whole engine, read-modify-write for partial writes,
// flushed on demand before it is repointed at a different block. It is
// owned exclusively by the VolumeManager (spec.md 9), never per-volume.
type blockCache struct {
	dev   BlockDevice
	buf   [512]byte
	addr  int64
	valid bool
	dirty bool
}

func (c *blockCache) reset(dev BlockDevice) {
	c.dev = dev
	c.addr = 0
	c.valid = false
	c.dirty = false
}

// window moves the cache to cover block addr, flushing a dirty window
// first if addr differs from the currently cached block.
func (c *blockCache) window(addr int64) error {
	if c.valid && c.addr == addr {
		return nil
	}
	if err := c.sync(); err != nil {
		return err
	}
	n, err := c.dev.ReadBlocks(c.buf[:], addr)
	if err != nil {
		return wrapDeviceErr("blockCache.window", err)
	}
	if n != len(c.buf) {
		return wrapDeviceErr("blockCache.window", errShortBlockRead)
	}
	c.addr = addr
	c.valid = true
	c.dirty = false
	return nil
}

// sync flushes the current window if dirty.
func (c *blockCache) sync() error {
	if !c.valid || !c.dirty {
		return nil
	}
	_, err := c.dev.WriteBlocks(c.buf[:], c.addr)
	if err != nil {
		return wrapDeviceErr("blockCache.sync", err)
	}
	c.dirty = false
	return nil
}

func (c *blockCache) markDirty() { c.dirty = true }

func (c *blockCache) invalidate() {
	c.valid = false
	c.dirty = false
}

var errShortBlockRead = shortBlockReadErr{}

type shortBlockReadErr struct{}

func (shortBlockReadErr) Error() string { return "short block read" }
