package fatfs

import "fmt"

// Example demonstrates the common mount -> create -> write -> close ->
// reopen -> read round trip against a freshly formatted FAT16 volume.
func Example() {
	dev := newFAT16Device()
	m := New(dev, testClock)

	vh, err := m.OpenVolume(0)
	if err != nil {
		fmt.Println(err)
		return
	}
	root, err := m.OpenRootDir(vh)
	if err != nil {
		fmt.Println(err)
		return
	}

	fh, err := m.OpenFileInDir(root, "README.TXT", ModeReadWriteCreate)
	if err != nil {
		fmt.Println(err)
		return
	}
	if _, err := m.Write(fh, []byte("hello from fatfs")); err != nil {
		fmt.Println(err)
		return
	}
	if err := m.CloseFile(fh); err != nil {
		fmt.Println(err)
		return
	}

	fh, err = m.OpenFileInDir(root, "README.TXT", ModeReadOnly)
	if err != nil {
		fmt.Println(err)
		return
	}
	buf := make([]byte, 64)
	n, err := m.Read(fh, buf)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(buf[:n]))

	if err := m.CloseFile(fh); err != nil {
		fmt.Println(err)
		return
	}
	if err := m.CloseDir(root); err != nil {
		fmt.Println(err)
		return
	}
	if err := m.CloseVolume(vh); err != nil {
		fmt.Println(err)
		return
	}

	// Output:
	// hello from fatfs
}
