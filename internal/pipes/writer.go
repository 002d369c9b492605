package pipes

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/donc310/psplit/internal/config"
)

// writer is one Output Task: it owns a single destination FIFO and drains
// its messageChannel onto it while the owning Reader indicates the source
// is live. It survives EPIPE and absent-consumer conditions for the
// lifetime of the process; it is never respawned by its Reader.
type writer struct {
	dest  *config.SplitOut
	state *Signal // the Reader's writer-state signal; read-only from here
	ch    *messageChannel
	log   *logrus.Entry

	// ignoreNext is the ignore-first-message latch: set when a write trips
	// EPIPE, so the next line pulled from the channel after reopening is
	// dropped rather than retried. The bytes that tripped EPIPE may already
	// be partially visible to a replacement consumer racing in; discarding
	// the next item is simpler and safer than buffering and retrying the
	// in-flight line.
	ignoreNext bool
}

func newWriter(dest *config.SplitOut, state *Signal, ch *messageChannel, log *logrus.Entry) *writer {
	return &writer{
		dest:  dest,
		state: state,
		ch:    ch,
		log:   log.WithFields(logrus.Fields{"component": "writer", "pipe": dest.Path}),
	}
}

// run is the Writer's Idle/Opening/Writing/Recovering/Exiting state
// machine. It returns when the writer-state signal reaches StateExit or
// when opening the destination fails with permission denied. The Reader
// never closes the lines channel; a Reader that stops reaches its Writers
// as StateExit.
func (w *writer) run() {
	defer w.ch.close()

	for {
		switch w.state.Load() {
		case StateExit:
			return
		case StateClose:
			time.Sleep(PollInterval)
			continue
		}

		fd, err := w.open()
		if err != nil {
			if isPermissionDenied(err) {
				w.log.WithError(err).Error("permission denied opening destination fifo, giving up")
				return
			}
			time.Sleep(PollInterval)
			continue
		}

		w.log.Info("writing data")
		w.drain(fd)
		unix.Close(fd)
		w.log.Info("stopped writing")
	}
}

// open is the Writer's Opening state: ensure the FIFO exists, then open it
// write-only, append, non-blocking. It returns a raw fd, never an
// *os.File: (*os.File).Fd() would force the descriptor back into blocking
// mode and defeat pollOnce.
func (w *writer) open() (int, error) {
	return ensureAndOpenDestination(w.dest.Path, config.DefaultFifoMode)
}

// drain is the Writer's Writing state: poll for writability and, on each
// writable event, hand off to writeLoop until it signals the fd should be
// abandoned (EPIPE, hang-up, or a state change).
func (w *writer) drain(fd int) {
	for {
		switch w.state.Load() {
		case StateExit, StateClose:
			return
		}

		event, err := pollOnce(fd, unix.POLLOUT)
		if err != nil {
			return // Restart: reopen on the next outer loop iteration.
		}
		if event.HangUp {
			w.log.Debug("destination consumer is gone")
			return // Recovering, no in-flight message: no latch needed.
		}
		if !event.Writable {
			continue // timed out, recheck signal
		}

		if !w.writeLoop(fd) {
			return
		}
	}
}

// writeLoop is the Writer's per-writable-event drain: pull one line at a
// time from the channel with a bounded timeout and write it. It returns
// only when the caller should abandon this fd (EPIPE recovery, a state
// change, or a closed lines channel, which the Reader never causes), and
// then always returns false.
func (w *writer) writeLoop(fd int) bool {
	for {
		switch w.state.Load() {
		case StateExit, StateClose:
			return false
		}

		select {
		case line, ok := <-w.ch.lines:
			if !ok {
				return false
			}

			if w.ignoreNext {
				w.ignoreNext = false
				continue
			}

			if err := writeLine(fd, line); err != nil {
				if isBrokenPipe(err) {
					w.ignoreNext = true
					return false
				}
				w.log.WithError(err).Warn("write error")
				continue
			}
		case <-time.After(PollInterval):
			continue
		}
	}
}

// writeLine performs a single non-blocking write syscall for the full
// line. FIFO writes up to PIPE_BUF are atomic, so partial writes are not
// retried — the line is expected to fit in one write in practice.
func writeLine(fd int, line string) error {
	_, err := unix.Write(fd, []byte(line))
	return err
}
