package fatfs

import (
	"context"
	"log/slog"
)

// slogLevelTrace sits below slog.LevelDebug for the very chatty,
// block-by-block tracing that's only useful when chasing an on-disk byte
// mismatch.
const slogLevelTrace = slog.LevelDebug - 2

func (m *VolumeManager) trace(msg string, args ...any) {
	if m.log == nil {
		return
	}
	m.log.Log(context.Background(), slogLevelTrace, msg, args...)
}

func (m *VolumeManager) debug(msg string, args ...any) {
	if m.log == nil {
		return
	}
	m.log.Debug(msg, args...)
}

func (m *VolumeManager) warn(msg string, args ...any) {
	if m.log == nil {
		return
	}
	m.log.Warn(msg, args...)
}

func (m *VolumeManager) logerror(msg string, err error, args ...any) {
	if m.log == nil {
		return
	}
	m.log.Error(msg, append(args, "err", err)...)
}
