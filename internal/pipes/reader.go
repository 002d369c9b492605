package pipes

import (
	"bufio"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/donc310/psplit/internal/config"
)

// fdReader adapts a raw non-blocking file descriptor to io.Reader for use
// with bufio.Reader, translating a zero-byte read into io.EOF and reporting
// a zero count with any error (unix.Read returns -1 then, which
// bufio.Reader rejects) the way os.File does. Kept as a bare fd (never
// promoted through os.File / .Fd()) so the descriptor stays non-blocking
// for pollOnce.
type fdReader int

func (fd fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// destination pairs one Writer's channel with the disconnected flag the
// Reader uses to stop attempting sends to a dead consumer, per spec
// invariant on MessageChannel.
type destination struct {
	ch           *messageChannel
	disconnected bool
}

// reader is one Input Task: it owns a single source FIFO, fans every
// complete line out to its Writers, and drives the per-group writer-state
// signal so Writers park whenever the source has no active producer.
type reader struct {
	src         *config.SplitIn
	globalExit  *Signal
	writerState *Signal
	outs        []*destination
	log         *logrus.Entry
}

func newReader(src *config.SplitIn, globalExit *Signal, log *logrus.Entry) *reader {
	return &reader{
		src:         src,
		globalExit:  globalExit,
		writerState: NewSignal(StateClose),
		log:         log.WithFields(logrus.Fields{"component": "reader", "pipe": src.Path}),
	}
}

// spawnWriters is the Opening-time step that creates one Writer per
// enabled destination, each with its own capacity-1 messageChannel.
func (r *reader) spawnWriters() {
	r.outs = make([]*destination, 0, r.src.EnabledOutputs())

	for _, out := range r.src.Outputs {
		if !out.Config.Enabled {
			continue
		}

		ch := newMessageChannel()
		r.outs = append(r.outs, &destination{ch: ch})

		w := newWriter(out, r.writerState, ch, r.log)
		go w.run()
	}
}

// run is the Reader's Opening/Polling/Draining/Exiting state machine.
// On open failure it logs and terminates only this input group — it does
// not retry, per spec.
func (r *reader) run() {
	fd, err := openSource(r.src.Path)
	if err != nil {
		r.log.WithError(err).Error("failed to open source fifo, terminating input group")
		return
	}
	defer unix.Close(fd)

	r.spawnWriters()
	defer r.writerState.Store(StateExit)

	r.log.Info("reading data")

	buf := bufio.NewReader(fdReader(fd))

	for {
		if r.globalExit.IsExit() {
			return
		}

		event, err := pollOnce(fd, unix.POLLIN)
		if err != nil {
			time.Sleep(PollInterval)
			continue
		}

		if event.Readable {
			r.writerState.Store(StateRun)
			r.drain(buf)
			r.log.Debug("stopped reading, no data pending")
			r.writerState.Store(StateClose)
			continue
		}

		if event.HangUp {
			// Source has no writer attached right now; keep polling, the
			// producer may connect later.
			continue
		}
	}
}

// drain is the Reader's Draining state: read complete lines (delimiter
// '\n', included in the payload) and fan each one out, until the source
// hits EOF (no producer attached any more). When the source would block,
// drain sleeps one PollInterval and keeps reading; the start of a line read
// before that point is kept and joined with the rest of the line.
func (r *reader) drain(buf *bufio.Reader) {
	partial := ""
	for {
		if r.globalExit.IsExit() {
			return
		}

		line, err := buf.ReadString('\n')
		line = partial + line
		partial = ""
		switch {
		case err == nil:
			r.fanOut(line)
		case err == io.EOF:
			if len(line) > 0 {
				r.fanOut(line)
			}
			return
		case isWouldBlock(err):
			partial = line
			time.Sleep(PollInterval)
		default:
			partial = line
			r.log.WithError(err).Warn("error reading source fifo")
			time.Sleep(PollInterval)
		}
	}
}

// fanOut attempts a non-blocking send of line to every non-disconnected
// destination. A full channel is a silent per-destination drop
// (slow-consumer isolation); a disconnected channel is marked dead for the
// lifetime of the group and never retried.
func (r *reader) fanOut(line string) {
	for _, d := range r.outs {
		if d.disconnected {
			continue
		}

		switch d.ch.trySend(line) {
		case sendDisconnected:
			d.disconnected = true
		case sendDropped, sendEnqueued:
		}
	}
}
