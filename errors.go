package fatfs

import "fmt"

// Kind classifies a *Error. It deliberately has few, coarse values instead of
// one type per failure, mirroring how the rest of this engine favors small
// closed enums (fileResult-style) over ad-hoc error values.
type Kind uint8

const (
	_ Kind = iota
	// KindDeviceError wraps an error returned by the underlying BlockDevice.
	KindDeviceError
	// KindFormatError means an MBR, BPB or FSInfo structure failed validation.
	KindFormatError
	// KindCorruptFilesystem means a cluster chain or directory structure
	// violated an invariant the engine relies on (bad cluster mid-chain,
	// a chain longer than the total cluster count, ...).
	KindCorruptFilesystem
	// KindNotFound means a directory/file lookup found no matching entry.
	KindNotFound
	// KindAlreadyExists means a create-new was attempted against an
	// existing entry.
	KindAlreadyExists
	// KindNotADirectory means an operation expecting a directory found a
	// file entry instead.
	KindNotADirectory
	// KindIsADirectory means an operation expecting a file found a
	// directory entry instead.
	KindIsADirectory
	// KindDirectoryFull means a directory (typically a fixed-size FAT16
	// root) has no room for another entry and cannot grow.
	KindDirectoryFull
	// KindDeviceFull means the volume has no free clusters left to
	// allocate.
	KindDeviceFull
	// KindReadOnly means a write was attempted through a read-only handle.
	KindReadOnly
	// KindBadHandle means a handle's generation did not match its slot, or
	// named a never-allocated slot.
	KindBadHandle
	// KindTooManyOpenVolumes means the volume slot array is full.
	KindTooManyOpenVolumes
	// KindTooManyOpenDirs means the directory slot array is full.
	KindTooManyOpenDirs
	// KindTooManyOpenFiles means the file slot array is full.
	KindTooManyOpenFiles
	// KindInvalidFilename means a name had disallowed characters, exceeded
	// the supported length, or contained a non-BMP codepoint.
	KindInvalidFilename
	// KindVolumeStillInUse means close_volume was called while a
	// directory or file handle still names that volume.
	KindVolumeStillInUse
	// KindFileAlreadyOpen means a non-read-only open was attempted on a
	// file that already has a non-read-only handle outstanding, or a delete
	// was attempted on a file that has any handle open.
	KindFileAlreadyOpen
	// KindDirectoryStillInUse means close_dir was called on a directory
	// that still has an open child file or subdirectory handle.
	KindDirectoryStillInUse
	// KindInvalidOffset means a seek target fell before the start of the
	// file or beyond the 32-bit offset range.
	KindInvalidOffset
)

func (k Kind) String() string {
	switch k {
	case KindDeviceError:
		return "device error"
	case KindFormatError:
		return "format error"
	case KindCorruptFilesystem:
		return "corrupt filesystem"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotADirectory:
		return "not a directory"
	case KindIsADirectory:
		return "is a directory"
	case KindDirectoryFull:
		return "directory full"
	case KindDeviceFull:
		return "device full"
	case KindReadOnly:
		return "read only"
	case KindBadHandle:
		return "bad handle"
	case KindTooManyOpenVolumes:
		return "too many open volumes"
	case KindTooManyOpenDirs:
		return "too many open directories"
	case KindTooManyOpenFiles:
		return "too many open files"
	case KindInvalidFilename:
		return "invalid filename"
	case KindVolumeStillInUse:
		return "volume still in use"
	case KindFileAlreadyOpen:
		return "file already open"
	case KindDirectoryStillInUse:
		return "directory still in use"
	case KindInvalidOffset:
		return "invalid offset"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by every exported operation in this
// package. Use errors.Is with an *Error carrying the wanted Kind (see Is), or
// errors.As to recover the wrapped cause of a KindDeviceError.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "OpenFileInDir"
	Context string // short, human-readable extra detail (a filename, a cluster id)
	Cause   error  // wrapped cause, set for KindDeviceError
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, &Error{Kind: KindNotFound}) style checks work without
// exposing a sentinel per kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

func newErrf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Context: fmt.Sprintf(format, args...)}
}

func wrapDeviceErr(op string, cause error) *Error {
	return &Error{Op: op, Kind: KindDeviceError, Cause: cause}
}
