package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/policy"
	"github.com/Data-Integrities/backend-ai/internal/remote"
)

// ForceTerminatedNote is the result recorded after a successful escalation.
const ForceTerminatedNote = "force-terminated after timeout"

// ActorLookup resolves a target name to its transports.
type ActorLookup interface {
	Get(name string) (*remote.Actor, bool)
}

// Escalator handles execution deadlines: it asks the policy whether the
// execution fails outright or escalates, and runs the forced termination.
type Escalator struct {
	store            *ExecutionStore
	policy           *policy.Engine
	actors           ActorLookup
	terminateTimeout time.Duration
	log              *logging.Logger
}

// NewEscalator installs itself as the store's timeout handler. A nil engine
// uses policy.Fallback.
func NewEscalator(store *ExecutionStore, engine *policy.Engine, actors ActorLookup, terminateTimeout time.Duration, log *logging.Logger) *Escalator {
	if terminateTimeout <= 0 {
		terminateTimeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	e := &Escalator{
		store:            store,
		policy:           engine,
		actors:           actors,
		terminateTimeout: terminateTimeout,
		log:              log.Component("escalation"),
	}
	store.SetTimeoutHandler(e.HandleTimeout)
	return e
}

// HandleTimeout is called once the deadline of a pending execution elapses.
func (e *Escalator) HandleTimeout(exec models.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), e.terminateTimeout)
	defer cancel()

	decision, err := e.policy.Decide(ctx, exec.Kind, exec.Target)
	if err != nil {
		e.log.Warnf("policy evaluation for %s failed, using fallback: %v", exec.ID, err)
	}

	if decision != policy.DecisionEscalate {
		e.store.Fail(exec.ID, timeoutMessage(exec), models.SourceTimeout)
		return
	}

	if !e.store.markTimedOut(exec.ID) {
		// a reconciliation channel finalized it first
		return
	}
	e.escalate(ctx, exec)
}

func (e *Escalator) escalate(ctx context.Context, exec models.Execution) {
	err := e.terminate(ctx, exec.Target)
	if err == nil {
		e.store.finishEscalation(exec.ID, models.StatusManuallyTerminated, ForceTerminatedNote, "")
		e.log.Infof("execution %s: %s force-terminated", exec.ID, exec.Target)
		return
	}

	escErr := apperr.EscalationFailed(exec.Target, err)
	msg := apperr.Message(escErr)
	_ = e.store.AppendLog(exec.ID, fmt.Sprintf("%s: %s", apperr.CodeEscalationFailed, msg))
	e.store.finishEscalation(exec.ID, models.StatusFailed, "", msg)
	e.log.Errorf("execution %s: %s", exec.ID, msg)
}

func (e *Escalator) terminate(ctx context.Context, target string) error {
	if e.actors == nil {
		return remote.ErrUnknownActor
	}
	actor, ok := e.actors.Get(target)
	if !ok {
		return fmt.Errorf("%w: %s", remote.ErrUnknownActor, target)
	}
	return actor.Terminate(ctx)
}
