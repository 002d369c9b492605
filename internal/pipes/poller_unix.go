//go:build unix

package pipes

import (
	"time"

	"golang.org/x/sys/unix"
)

// PollInterval is the fixed polling tick used for idle backoff and
// cooperative cancellation checks throughout the engine.
const PollInterval = 100 * time.Millisecond

// readyEvent mirrors the subset of poll(2) revents the engine cares about.
type readyEvent struct {
	Readable bool
	Writable bool
	HangUp   bool
}

// pollOnce waits up to PollInterval for fd to become ready for the given
// mask (unix.POLLIN or unix.POLLOUT). It retries transparently on EINTR.
// A zero-value readyEvent means the poll timed out with nothing ready.
func pollOnce(fd int, mask int16) (readyEvent, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: mask}}

	for {
		n, err := unix.Poll(fds, int(PollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return readyEvent{}, err
		}
		if n == 0 {
			return readyEvent{}, nil
		}

		revents := fds[0].Revents
		return readyEvent{
			Readable: revents&unix.POLLIN != 0,
			Writable: revents&unix.POLLOUT != 0,
			HangUp:   revents&(unix.POLLHUP|unix.POLLERR) != 0,
		}, nil
	}
}
