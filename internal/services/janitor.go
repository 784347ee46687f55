package services

import (
	"context"
	"fmt"

	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	rcron "github.com/robfig/cron/v3"
)

// Janitor periodically sweeps the task queues and evicts executions past
// their retention window.
type Janitor struct {
	store  *ExecutionStore
	queues []*TaskQueue
	clock  clock.Clock
	log    *logging.Logger

	cron    *rcron.Cron
	entryID rcron.EntryID
}

// NewJanitor schedules the sweep on spec, a cron expression or descriptor
// such as "@every 30s".
func NewJanitor(spec string, store *ExecutionStore, queues []*TaskQueue, clk clock.Clock, log *logging.Logger) (*Janitor, error) {
	if spec == "" {
		spec = "@every 30s"
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.Discard()
	}
	j := &Janitor{
		store:  store,
		queues: queues,
		clock:  clk,
		log:    log.Component("janitor"),
	}

	adapter := cronLogger{log: j.log}
	j.cron = rcron.New(
		rcron.WithLogger(adapter),
		rcron.WithChain(rcron.Recover(adapter), rcron.SkipIfStillRunning(adapter)),
	)
	id, err := j.cron.AddFunc(spec, j.RunOnce)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	j.entryID = id
	return j, nil
}

// RunOnce performs one sweep immediately.
func (j *Janitor) RunOnce() {
	now := j.clock.Now()
	for _, q := range j.queues {
		expired, removed := q.Sweep(now)
		if expired > 0 || removed > 0 {
			j.log.Infof("queue %s: %d expired, %d removed", q.Name(), expired, removed)
		}
	}
	if n := j.store.EvictExpired(now); n > 0 {
		j.log.Infof("evicted %d executions past retention", n)
	}
}

func (j *Janitor) Start() {
	j.log.Infof("janitor started")
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	j.log.Infof("janitor stopped")
}

// cronLogger adapts the server logger to robfig/cron's logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
