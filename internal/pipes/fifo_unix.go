//go:build unix

package pipes

import (
	"errors"
	"os"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrorKind classifies a FIFO-creation failure the way spec.md's FIFO
// helper requires: EACCES -> permission-denied, EEXIST -> already-exists,
// ENOENT -> not-found, anything else -> other.
type ErrorKind int

const (
	ErrOther ErrorKind = iota
	ErrPermissionDenied
	ErrAlreadyExists
	ErrNotFound
)

// FifoError wraps a failed mkfifo(2) with its classified kind.
type FifoError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *FifoError) Error() string {
	return pkgerrors.Wrapf(e.Err, "mkfifo %q", e.Path).Error()
}

func (e *FifoError) Unwrap() error { return e.Err }

func classifyErrno(err error) ErrorKind {
	switch {
	case errors.Is(err, unix.EACCES):
		return ErrPermissionDenied
	case errors.Is(err, unix.EEXIST):
		return ErrAlreadyExists
	case errors.Is(err, unix.ENOENT):
		return ErrNotFound
	default:
		return ErrOther
	}
}

// createFifo creates a FIFO at path with the given permission mode. It
// returns nil both when creation succeeds and when the FIFO already
// exists — the caller treats already-exists as success, per spec.
func createFifo(path string, mode os.FileMode) error {
	err := unix.Mkfifo(path, uint32(mode.Perm()))
	if err == nil {
		// mkfifo(2) masks the mode with the process umask; apply it in full.
		return unix.Chmod(path, uint32(mode.Perm()))
	}

	fe := &FifoError{Path: path, Kind: classifyErrno(err), Err: err}
	if fe.Kind == ErrAlreadyExists {
		return nil
	}
	return fe
}

// openSource opens a source FIFO read-only, non-blocking, returning the
// raw file descriptor. The caller is expected to have ensured the FIFO
// exists (sources are not created by the engine — only the configured
// producer creates them).
//
// This deliberately returns a raw fd rather than an *os.File: calling
// (*os.File).Fd() forces the descriptor back into blocking mode (it
// undoes O_NONBLOCK so the runtime's own blocking-syscall wrappers keep
// working), which would make every read on this fd a real blocking
// syscall and defeat pollOnce entirely.
func openSource(path string) (int, error) {
	return unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
}

// ensureAndOpenDestination creates (if missing) and opens a destination
// FIFO write-only, append, non-blocking, creating it with the given
// permission mode (the Writer passes config.DefaultFifoMode), returning the
// raw file descriptor for the same reason as openSource.
func ensureAndOpenDestination(path string, mode os.FileMode) (int, error) {
	if err := createFifo(path, mode); err != nil {
		return -1, err
	}
	return unix.Open(path, unix.O_WRONLY|unix.O_APPEND|unix.O_NONBLOCK, 0)
}

// isWouldBlock reports whether err is the non-blocking "no data/no room"
// errno (EAGAIN, aliased to EWOULDBLOCK on Linux).
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// isBrokenPipe reports whether err is EPIPE.
func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}

// isPermissionDenied reports whether err is EACCES.
func isPermissionDenied(err error) bool {
	return errors.Is(err, unix.EACCES)
}
