// Package kerr defines the kernel's error-kind taxonomy (spec.md §7) on top
// of errdefs, and the single total translation from a kind to the negated
// POSIX errno the syscall ABI returns.
package kerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// Sentinel kinds, each wrapping the matching errdefs error so that callers
// anywhere in the tree can use errors.Is against either this package's
// sentinels or errdefs' own.
var (
	ErrNotSupported = fmt.Errorf("not supported: %w", errdefs.ErrNotImplemented)
	ErrPermission   = fmt.Errorf("permission denied: %w", errdefs.ErrPermissionDenied)
	ErrBadArgument  = fmt.Errorf("bad argument: %w", errdefs.ErrInvalidArgument)
	ErrNotFound     = fmt.Errorf("not found: %w", errdefs.ErrNotFound)
	ErrExists       = fmt.Errorf("already exists: %w", errdefs.ErrAlreadyExists)
	ErrBusy         = fmt.Errorf("busy: %w", errdefs.ErrConflict)
	ErrNoMemory     = fmt.Errorf("no memory: %w", errdefs.ErrResourceExhausted)
	ErrPortClosed   = fmt.Errorf("port closed: %w", errdefs.ErrFailedPrecondition)
	ErrNoMessages   = fmt.Errorf("no messages: %w", errdefs.ErrUnavailable)
	ErrOrphaned     = fmt.Errorf("owner terminated: %w", errdefs.ErrFailedPrecondition)
	ErrFormat       = fmt.Errorf("malformed payload: %w", errdefs.ErrInvalidArgument)
	// ErrInterrupted is returned to a blocking syscall whose task was
	// killed while parked in a waiter set (spec.md §7 "User-visible").
	ErrInterrupted = fmt.Errorf("interrupted: %w", errdefs.ErrAborted)
)

// Wrap annotates err with additional context while preserving the kind for
// errors.Is / ToErrno.
func Wrap(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// ToErrno is the single total translation from an internal error kind to
// the negative POSIX errno value a syscall returns. No kind may fall through
// unconverted; unrecognized errors map to -EIO as a last resort (the
// mapping itself logs nothing).
func ToErrno(err error) int64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotSupported):
		return -int64(unix.ENOSYS)
	case errors.Is(err, ErrPermission):
		return -int64(unix.EPERM)
	case errors.Is(err, ErrBadArgument):
		return -int64(unix.EINVAL)
	case errors.Is(err, ErrNotFound):
		return -int64(unix.EBADF)
	case errors.Is(err, ErrExists):
		return -int64(unix.EEXIST)
	case errors.Is(err, ErrBusy):
		return -int64(unix.EBUSY)
	case errors.Is(err, ErrNoMemory):
		return -int64(unix.ENOMEM)
	case errors.Is(err, ErrPortClosed):
		return -int64(unix.EPIPE)
	case errors.Is(err, ErrNoMessages):
		return -int64(unix.EAGAIN)
	case errors.Is(err, ErrOrphaned):
		return -int64(unix.EIDRM)
	case errors.Is(err, ErrFormat):
		return -int64(unix.EINVAL)
	case errors.Is(err, ErrInterrupted):
		return -int64(unix.EINTR)
	default:
		return -int64(unix.EIO)
	}
}

// IsInterrupted reports whether err is (or wraps) ErrInterrupted, the
// EINTR case a blocking syscall must check before returning to userspace.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// Log records err at a severity appropriate to its kind: no-messages and
// not-found at Debug, port-closed and orphaned at Warn (expected races
// with a peer going away), and every other kind at Error.
func Log(ctx context.Context, err error, msg string) {
	if err == nil {
		return
	}
	entry := log.G(ctx)
	switch {
	case errors.Is(err, ErrNoMessages), errors.Is(err, ErrNotFound):
		entry.WithError(err).Debug(msg)
	case errors.Is(err, ErrPortClosed), errors.Is(err, ErrOrphaned):
		entry.WithError(err).Warn(msg)
	default:
		entry.WithError(err).Error(msg)
	}
}
