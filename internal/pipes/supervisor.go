// Package pipes implements the named-pipe fan-out engine: the concurrent
// state machine that opens, reads, writes, and recovers FIFOs whose remote
// ends may appear and disappear at any time. Configuration is supplied by
// internal/config; this package owns only the pipe lifecycle.
package pipes

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/donc310/psplit/internal/config"
)

// Supervisor reads the parsed configuration, spawns one Input Task per
// enabled source that has at least one enabled destination, and holds the
// single process-wide exit signal every Reader watches.
type Supervisor struct {
	inputs []*config.SplitIn
	exit   *Signal
	log    *logrus.Entry
	group  *errgroup.Group
}

// NewSupervisor builds a Supervisor for the given inputs. log is used as
// the base entry every Reader and Writer derive their own fields from.
func NewSupervisor(inputs []*config.SplitIn, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		inputs: inputs,
		exit:   NewSignal(StateRun),
		log:    log,
	}
}

// Start spawns one Reader goroutine per enabled input group that has at
// least one enabled output, per spec invariant 3. Disabled or output-less
// input groups never get a Reader. Calling Start on a Supervisor with no
// eligible inputs is a silent no-op.
func (s *Supervisor) Start(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	s.group = group

	for _, in := range s.inputs {
		in := in
		if !in.Config.Enabled || in.EnabledOutputs() == 0 {
			continue
		}

		s.log.WithField("pipe", in.Path).Info("starting input group: " + in.String())

		r := newReader(in, s.exit, s.log)
		s.group.Go(func() error {
			r.run()
			return nil
		})
	}

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
}

// Shutdown publishes StateExit on the global exit signal. Every Reader
// observes it within one polling interval, publishes StateExit on its own
// writer-state signal, and every Writer it owns follows within one more
// polling interval — spec invariant 4 and testable property 6.
func (s *Supervisor) Shutdown() {
	s.exit.Store(StateExit)
}

// Wait blocks until every Input Task has returned.
func (s *Supervisor) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}
