package export

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	logx "syncwire/pkg/logx"
)

// Schedule runs the exporter on a cron expression and survives config
// reloads: Apply swaps the expression in place without restarting the
// underlying scheduler.
type Schedule struct {
	log logx.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	current string
}

func NewSchedule(log logx.Logger) *Schedule {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Schedule{
		log:  log.With(logx.String("component", "export-schedule")),
		cron: cron.New(),
	}
}

// Apply sets the active cron expression. An empty spec removes any
// scheduled job; reapplying the current spec is a no-op.
func (s *Schedule) Apply(spec string, run func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.current {
		return nil
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.current = spec
	if spec == "" {
		s.log.Info("scheduled backup disabled")
		return nil
	}

	id, err := s.cron.AddFunc(spec, run)
	if err != nil {
		s.current = ""
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	s.log.Info("scheduled backup set", logx.String("spec", spec))
	return nil
}

func (s *Schedule) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running job to finish.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}
