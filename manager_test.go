package fatfs

import (
	"errors"
	"fmt"
	"testing"
)

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want error of kind %v, got nil", kind)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("want *Error, got %T: %v", err, err)
	}
	if fe.Kind != kind {
		t.Fatalf("want kind %v, got %v (%v)", kind, fe.Kind, err)
	}
}

func mustNotErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestMountEmptyRootDir(t *testing.T) {
	for _, dev := range []BlockDevice{newFAT16Device(), newFAT32Device()} {
		m := New(dev, testClock)
		vh, err := m.OpenVolume(0)
		mustNotErr(t, err)
		root, err := m.OpenRootDir(vh)
		mustNotErr(t, err)
		count := 0
		err = m.IterateDir(root, func(DirEntry) error {
			count++
			return nil
		})
		mustNotErr(t, err)
		if count != 0 {
			t.Fatalf("want empty root, got %d entries", count)
		}
		mustNotErr(t, m.CloseDir(root))
		mustNotErr(t, m.CloseVolume(vh))
	}
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	for _, dev := range []BlockDevice{newFAT16Device(), newFAT32Device()} {
		m := New(dev, testClock)
		vh, err := m.OpenVolume(0)
		mustNotErr(t, err)
		root, err := m.OpenRootDir(vh)
		mustNotErr(t, err)

		const content = "hello, embedded world"
		fh, err := m.OpenFileInDir(root, "HELLO.TXT", ModeReadWriteCreate)
		mustNotErr(t, err)
		n, err := m.Write(fh, []byte(content))
		mustNotErr(t, err)
		if n != len(content) {
			t.Fatalf("short write: %d != %d", n, len(content))
		}
		mustNotErr(t, m.CloseFile(fh))

		fh2, err := m.OpenFileInDir(root, "HELLO.TXT", ModeReadOnly)
		mustNotErr(t, err)
		length, err := m.FileLength(fh2)
		mustNotErr(t, err)
		if length != uint32(len(content)) {
			t.Fatalf("want length %d, got %d", len(content), length)
		}
		buf := make([]byte, length)
		n, err = m.Read(fh2, buf)
		mustNotErr(t, err)
		if string(buf[:n]) != content {
			t.Fatalf("want %q, got %q", content, buf[:n])
		}
		eof, err := m.IsEOF(fh2)
		mustNotErr(t, err)
		if !eof {
			t.Fatal("want EOF after reading the whole file")
		}
		mustNotErr(t, m.CloseFile(fh2))
		mustNotErr(t, m.CloseDir(root))
		mustNotErr(t, m.CloseVolume(vh))
	}
}

func TestTruncateOnOpen(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	fh, err := m.OpenFileInDir(root, "BIG.DAT", ModeReadWriteCreate)
	mustNotErr(t, err)
	big := make([]byte, 3*fat16SectorsPerClust*512) // spans several clusters
	for i := range big {
		big[i] = byte(i)
	}
	_, err = m.Write(fh, big)
	mustNotErr(t, err)
	firstCluster := m.files[fh.idx].startCluster
	if firstCluster == 0 {
		t.Fatal("file should have an allocated first cluster before truncation")
	}
	mustNotErr(t, m.CloseFile(fh))

	fh2, err := m.OpenFileInDir(root, "BIG.DAT", ModeReadWriteTruncate)
	mustNotErr(t, err)
	length, err := m.FileLength(fh2)
	mustNotErr(t, err)
	if length != 0 {
		t.Fatalf("want truncated length 0, got %d", length)
	}
	if got := m.files[fh2.idx].startCluster; got != firstCluster {
		t.Fatalf("truncate-on-open must keep the first cluster allocated (EOC): want %d, got %d", firstCluster, got)
	}
	const small = "small now"
	_, err = m.Write(fh2, []byte(small))
	mustNotErr(t, err)
	if got := m.files[fh2.idx].startCluster; got != firstCluster {
		t.Fatalf("writing after truncate should reuse the preserved first cluster: want %d, got %d", firstCluster, got)
	}
	mustNotErr(t, m.CloseFile(fh2))

	fh3, err := m.OpenFileInDir(root, "BIG.DAT", ModeReadOnly)
	mustNotErr(t, err)
	length, err = m.FileLength(fh3)
	mustNotErr(t, err)
	if length != uint32(len(small)) {
		t.Fatalf("want length %d after truncate+write, got %d", len(small), length)
	}
	mustNotErr(t, m.CloseFile(fh3))
}

func TestLongFileNameRoundtrip(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	const long = "a rather long descriptive file name.txt"
	fh, err := m.OpenFileInDir(root, long, ModeReadWriteCreate)
	mustNotErr(t, err)
	mustNotErr(t, m.CloseFile(fh))

	var found *DirEntry
	err = m.IterateDir(root, func(e DirEntry) error {
		if e.Name == long {
			cp := e
			found = &cp
		}
		return nil
	})
	mustNotErr(t, err)
	if found == nil {
		t.Fatal("long name not found on iteration")
	}
	if found.ShortName == long {
		t.Fatalf("short name should differ from the long name, got %q", found.ShortName)
	}

	fh2, err := m.OpenFileInDir(root, long, ModeReadOnly)
	mustNotErr(t, err)
	mustNotErr(t, m.CloseFile(fh2))
}

func TestShortNameCollisionSuffix(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	names := []string{
		"a very long name one.txt",
		"a very long name two.txt",
		"a very long name three.txt",
	}
	for _, n := range names {
		fh, err := m.OpenFileInDir(root, n, ModeReadWriteCreate)
		mustNotErr(t, err)
		mustNotErr(t, m.CloseFile(fh))
	}

	seen := map[string]bool{}
	err = m.IterateDir(root, func(e DirEntry) error {
		if seen[e.ShortName] {
			t.Fatalf("duplicate short name %q", e.ShortName)
		}
		seen[e.ShortName] = true
		return nil
	})
	mustNotErr(t, err)
	if len(seen) != len(names) {
		t.Fatalf("want %d distinct short names, got %d", len(names), len(seen))
	}
}

func TestDirectoryStillInUseInvariant(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	mustNotErr(t, m.MakeDirInDir(root, "SUBDIR"))
	sub, err := m.OpenDir(root, "SUBDIR")
	mustNotErr(t, err)

	wantKind(t, m.CloseDir(root), KindDirectoryStillInUse)

	mustNotErr(t, m.CloseDir(sub))
	mustNotErr(t, m.CloseDir(root))
}

func TestFileAlreadyOpenInvariant(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	fh, err := m.OpenFileInDir(root, "LOCK.TXT", ModeReadWriteCreate)
	mustNotErr(t, err)

	_, err = m.OpenFileInDir(root, "LOCK.TXT", ModeReadWriteAppend)
	wantKind(t, err, KindFileAlreadyOpen)

	roFh, err := m.OpenFileInDir(root, "LOCK.TXT", ModeReadOnly)
	mustNotErr(t, err)
	mustNotErr(t, m.CloseFile(roFh))

	mustNotErr(t, m.CloseFile(fh))
}

func TestDeleteFileFreesChain(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	fh, err := m.OpenFileInDir(root, "GONE.TXT", ModeReadWriteCreate)
	mustNotErr(t, err)
	_, err = m.Write(fh, make([]byte, 4*512))
	mustNotErr(t, err)
	first := m.files[fh.idx].startCluster
	if first == 0 {
		t.Fatal("file should have an allocated first cluster before deletion")
	}
	mustNotErr(t, m.CloseFile(fh))

	mustNotErr(t, m.DeleteFileInDir(root, "GONE.TXT"))

	fatEnt, err := m.fatEntry(&m.volumes[vh.idx].desc, first)
	mustNotErr(t, err)
	if fatEnt != clusterFree {
		t.Fatalf("cluster %d should be free after delete, FAT entry is %#x", first, fatEnt)
	}

	_, found, err := m.findByName(&m.volumes[vh.idx].desc, m.dirs[root.idx].loc, "GONE.TXT")
	mustNotErr(t, err)
	if found {
		t.Fatal("deleted entry still found on iteration")
	}

	_, err = m.OpenFileInDir(root, "GONE.TXT", ModeReadOnly)
	wantKind(t, err, KindNotFound)
}

func TestSeekBounds(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	fh, err := m.OpenFileInDir(root, "SEEK.TXT", ModeReadWriteCreate)
	mustNotErr(t, err)
	_, err = m.Write(fh, []byte("0123456789"))
	mustNotErr(t, err)

	mustNotErr(t, m.SeekFromStart(fh, 5))
	buf := make([]byte, 5)
	n, err := m.Read(fh, buf)
	mustNotErr(t, err)
	if string(buf[:n]) != "56789" {
		t.Fatalf("want %q, got %q", "56789", buf[:n])
	}

	mustNotErr(t, m.SeekFromStart(fh, 11))
	length, err := m.FileLength(fh)
	mustNotErr(t, err)
	if length != 10 {
		t.Fatalf("seeking past end must not extend the file: want length 10, got %d", length)
	}
	wantKind(t, m.SeekFromCurrent(fh, -100), KindInvalidOffset)
	wantKind(t, m.SeekFromEnd(fh, 11), KindInvalidOffset)

	mustNotErr(t, m.SeekFromEnd(fh, 0))
	eof, err := m.IsEOF(fh)
	mustNotErr(t, err)
	if !eof {
		t.Fatal("want EOF at end")
	}
	mustNotErr(t, m.CloseFile(fh))
}

func TestDirectorySpanningMultipleClusters(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	mustNotErr(t, m.MakeDirInDir(root, "BIGDIR"))
	sub, err := m.OpenDir(root, "BIGDIR")
	mustNotErr(t, err)

	const want = 600 // forces growDirectory past one cluster of 8*16=128 slots
	for i := 0; i < want; i++ {
		fh, err := m.OpenFileInDir(sub, fmt.Sprintf("F%d.TXT", i), ModeReadWriteCreate)
		mustNotErr(t, err)
		mustNotErr(t, m.CloseFile(fh))
	}

	got := 0
	err = m.IterateDir(sub, func(DirEntry) error {
		got++
		return nil
	})
	mustNotErr(t, err)
	if got != want {
		t.Fatalf("want %d entries, got %d", want, got)
	}
	mustNotErr(t, m.CloseDir(sub))
	mustNotErr(t, m.CloseDir(root))
}

func TestChangeDirDotDot(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	mustNotErr(t, m.MakeDirInDir(root, "CHILD"))
	child, err := m.OpenRootDir(vh)
	mustNotErr(t, err)
	mustNotErr(t, m.ChangeDir(child, "CHILD"))
	mustNotErr(t, m.ChangeDir(child, ".."))

	if m.dirs[child.idx].loc != m.dirs[root.idx].loc {
		t.Fatal("changing to .. from a first-level subdirectory should land back on the root")
	}
	mustNotErr(t, m.CloseDir(child))
	mustNotErr(t, m.CloseDir(root))
}

func TestVolumeStillInUseInvariant(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)

	wantKind(t, m.CloseVolume(vh), KindVolumeStillInUse)
	mustNotErr(t, m.CloseDir(root))
	mustNotErr(t, m.CloseVolume(vh))
}

func TestBadHandleAfterClose(t *testing.T) {
	dev := newFAT16Device()
	m := New(dev, testClock)
	vh, err := m.OpenVolume(0)
	mustNotErr(t, err)
	root, err := m.OpenRootDir(vh)
	mustNotErr(t, err)
	mustNotErr(t, m.CloseDir(root))

	_, err = m.OpenDir(root, "ANYTHING")
	wantKind(t, err, KindBadHandle)
}
