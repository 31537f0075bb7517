package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/tcmartin/flowconsole/pkg/loader"
	"github.com/tcmartin/flowconsole/pkg/logging"
)

// ScheduledFlow is a flow file bound to a cron expression
type ScheduledFlow struct {
	ID       cron.EntryID
	Schedule string
	Path     string
}

// Scheduler re-runs flow files on cron schedules. Every tick is an
// independent run session; a tick that fires while another run is in
// progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  *FlowRunner
	loader  loader.YAMLLoader
	logger  logging.Logger
	running atomic.Bool

	mu      sync.Mutex
	flows   map[cron.EntryID]ScheduledFlow
	results chan *FlowResult
}

// NewScheduler creates a scheduler. Expressions accept an optional seconds
// field and descriptors such as @every 5m.
func NewScheduler(runner *FlowRunner, yamlLoader loader.YAMLLoader, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		runner: runner,
		loader: yamlLoader,
		logger: logger,
		flows:  make(map[cron.EntryID]ScheduledFlow),
	}
}

// Schedule registers the flow file at path. The file is validated now and
// re-read on every tick.
func (s *Scheduler) Schedule(schedule, path string) (cron.EntryID, error) {
	if _, err := s.loader.LoadFile(path); err != nil {
		return 0, fmt.Errorf("failed to load scheduled flow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id cron.EntryID
	id, err := s.cron.AddFunc(schedule, func() {
		s.tick(context.Background(), id)
	})
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.flows[id] = ScheduledFlow{ID: id, Schedule: schedule, Path: path}
	return id, nil
}

// Remove unschedules a flow
func (s *Scheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
	delete(s.flows, id)
}

// Flows lists the scheduled flows
func (s *Scheduler) Flows() []ScheduledFlow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledFlow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	return out
}

// Results returns a channel receiving the result of every completed tick.
// It must be called before Start.
func (s *Scheduler) Results() <-chan *FlowResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(chan *FlowResult, 16)
	}
	return s.results
}

// Start runs the cron scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling; the returned context is done when running ticks finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick(ctx context.Context, id cron.EntryID) {
	s.mu.Lock()
	flow, ok := s.flows[id]
	results := s.results
	s.mu.Unlock()
	if !ok {
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Skipping scheduled run, previous run still in progress",
			logging.F("path", flow.Path))
		return
	}
	defer s.running.Store(false)

	def, err := s.loader.LoadFile(flow.Path)
	if err != nil {
		s.logger.Error("Failed to load scheduled flow", logging.F("path", flow.Path), logging.Err(err))
		return
	}

	result, err := s.runner.RunFlow(ctx, def)
	if err != nil {
		s.logger.Error("Scheduled run failed", logging.F("path", flow.Path), logging.Err(err))
		return
	}

	s.logger.Info("Scheduled run completed",
		logging.F("path", flow.Path),
		logging.F("result_type", string(result.Session.ResultType)))

	if results != nil {
		select {
		case results <- result:
		default:
		}
	}
}
