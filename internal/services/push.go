package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
)

const (
	PushOnline   = "online"
	PushOffline  = "offline"
	PushStarting = "starting"
	PushStopping = "stopping"
)

// StatusRecorder keeps the last reported state of an actor.
type StatusRecorder interface {
	Record(models.ActorStatus)
}

// PushResult reports what a push event changed.
type PushResult struct {
	Actor     string            `json:"actor"`
	State     models.ActorState `json:"state"`
	Finalized int               `json:"finalized"`
}

// PushReceiver applies lifecycle events that actors report on their own.
type PushReceiver struct {
	store    *ExecutionStore
	recorder StatusRecorder
	window   time.Duration
	clock    clock.Clock
	log      *logging.Logger
}

// NewPushReceiver creates a receiver. window bounds how far back an already
// finalized execution still gets its detection time recorded.
func NewPushReceiver(store *ExecutionStore, recorder StatusRecorder, window time.Duration, clk clock.Clock, log *logging.Logger) *PushReceiver {
	if window <= 0 {
		window = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &PushReceiver{
		store:    store,
		recorder: recorder,
		window:   window,
		clock:    clk,
		log:      log.Component("push"),
	}
}

// HandleEvent maps event to an actor state and reconciles the executions on
// the actor. Transitional events only annotate pending executions and mark
// the actor as changing.
func (r *PushReceiver) HandleEvent(actor, event, detail string) (PushResult, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	res := PushResult{Actor: actor, State: models.ActorUnknown}
	now := r.clock.Now()

	switch event {
	case PushOnline:
		res.State = models.ActorRunning
	case PushOffline:
		res.State = models.ActorStopped
	case PushStarting, PushStopping:
		line := fmt.Sprintf("push event from %s: %s", actor, event)
		if detail != "" {
			line += " (" + detail + ")"
		}
		for _, exec := range r.store.PendingForTarget(actor) {
			_ = r.store.AppendLog(exec.ID, line)
		}
		r.store.NoteTransition(actor)
		return res, nil
	default:
		return res, apperr.InvalidRequest(fmt.Sprintf("unknown event %q", event))
	}

	if r.recorder != nil {
		r.recorder.Record(models.ActorStatus{Name: actor, State: res.State, Detail: detail, ObservedAt: &now})
	}
	res.Finalized = reconcileObservation(r.store, actor, res.State, models.SourcePush, now, now.Add(-r.window))
	r.log.Infof("push %s from %s finalized %d executions", event, actor, res.Finalized)
	return res, nil
}
