package fatfs

import (
	"errors"
	"testing"
)

// FuzzFileOps drives a small operation-sequencer virtual machine against a
// live volume, adapted from the teacher's FuzzFS: each uint64 packs an
// operation, a target file index and a data size, and the fuzzer is free to
// reorder/combine them however it likes. The only properties asserted are
// that the manager never panics, that reading from or closing a live handle
// never fails (a read at EOF returns zero bytes), and that a failed write
// surfaces as an *Error. Operations that would contend with an invariant
// (opening an already-open file, reading, writing or closing a file that is
// not open, deleting an open file) are skipped rather than attempted.
func FuzzFileOps(f *testing.F) {
	const (
		opCreateOrOpen uint64 = iota
		opWrite
		opRead
		opClose
		opDelete
		numOps

		whoOff      = 8
		datasizeOff = 16
	)
	f.Add(opCreateOrOpen, opWrite|(100<<datasizeOff), opClose,
		opCreateOrOpen, opRead|(100<<datasizeOff), opClose,
		opCreateOrOpen|(1<<whoOff), opWrite|(1<<whoOff)|(50<<datasizeOff), opDelete|(1<<whoOff))

	writeData := make([]byte, 1<<12)
	for i := range writeData {
		writeData[i] = byte(i)
	}
	readData := make([]byte, 1<<12)

	f.Fuzz(func(t *testing.T, ops0, ops1, ops2, ops3, ops4, ops5, ops6, ops7, ops8 uint64) {
		dev := newFAT16Device()
		m := New(dev, testClock)
		vh, err := m.OpenVolume(0)
		if err != nil {
			t.Fatal(err)
		}
		root, err := m.OpenRootDir(vh)
		if err != nil {
			t.Fatal(err)
		}

		const numFiles = 4
		var handles [numFiles]FileHandle
		var open [numFiles]bool

		names := [numFiles]string{"A.TXT", "B.TXT", "C.TXT", "D.TXT"}
		ops := [...]uint64{ops0, ops1, ops2, ops3, ops4, ops5, ops6, ops7, ops8}
		for _, raw := range ops {
			op := raw % numOps
			who := (raw >> whoOff) % numFiles
			datasize := int((raw >> datasizeOff) & 0xFFF)
			name := names[who]

			switch op {
			case opCreateOrOpen:
				if open[who] {
					continue
				}
				fh, err := m.OpenFileInDir(root, name, ModeReadWriteCreateOrAppend)
				if err != nil {
					continue
				}
				handles[who] = fh
				open[who] = true

			case opWrite:
				if !open[who] {
					continue
				}
				if datasize > len(writeData) {
					datasize = len(writeData)
				}
				_, err := m.Write(handles[who], writeData[:datasize])
				if err != nil {
					var fe *Error
					if !errors.As(err, &fe) {
						t.Fatalf("write returned a non-*Error: %v", err)
					}
				}

			case opRead:
				if !open[who] {
					continue
				}
				if datasize > len(readData) {
					datasize = len(readData)
				}
				_, err := m.Read(handles[who], readData[:datasize])
				if err != nil {
					t.Fatalf("read should never fail on an open, readable handle: %v", err)
				}

			case opClose:
				if !open[who] {
					continue
				}
				if err := m.CloseFile(handles[who]); err != nil {
					t.Fatalf("close on a live handle should never fail: %v", err)
				}
				open[who] = false

			case opDelete:
				if open[who] {
					continue // deleting an open file is expected to fail, skip rather than assert on it
				}
				m.DeleteFileInDir(root, name)
			}
		}

		for i := range handles {
			if open[i] {
				m.CloseFile(handles[i])
			}
		}
	})
}
