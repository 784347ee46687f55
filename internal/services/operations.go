package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/remote"
	"github.com/Data-Integrities/backend-ai/internal/validation"
)

type OperationRequest struct {
	ID      string
	Target  string
	Kind    string
	Command string
	Timeout time.Duration
}

// OperationService starts executions and hands them to the remote actor.
type OperationService struct {
	store           *ExecutionStore
	actors          ActorLookup
	batches         *BatchAggregator
	callbackBase    string
	dispatchTimeout time.Duration
	log             *logging.Logger
}

// NewOperationService wires itself as the batch dispatcher. callbackBase is
// the externally reachable URL prefix of the executions API.
func NewOperationService(store *ExecutionStore, actors ActorLookup, batches *BatchAggregator, callbackBase string, dispatchTimeout time.Duration, log *logging.Logger) *OperationService {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &OperationService{
		store:           store,
		actors:          actors,
		batches:         batches,
		callbackBase:    strings.TrimRight(callbackBase, "/"),
		dispatchTimeout: dispatchTimeout,
		log:             log.Component("operations"),
	}
	if batches != nil {
		batches.SetDispatcher(s)
	}
	return s
}

// StartOperation records a pending execution and dispatches it in the
// background. Dispatch failures finalize the execution, they are not returned.
func (s *OperationService) StartOperation(ctx context.Context, req OperationRequest) (*models.Execution, error) {
	if strings.TrimSpace(req.Target) == "" || strings.TrimSpace(req.Kind) == "" {
		return nil, apperr.InvalidRequest("target and kind are required")
	}
	if err := validateOperation(req.ID, req.Target, req.Kind, req.Command); err != nil {
		return nil, err
	}
	id, err := s.store.Start(StartRequest{
		ID:      req.ID,
		Command: req.Command,
		Target:  req.Target,
		Kind:    req.Kind,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	exec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	go s.DispatchExecution(context.WithoutCancel(ctx), *exec)
	return exec, nil
}

// DispatchExecution sends exec to its target actor.
func (s *OperationService) DispatchExecution(ctx context.Context, exec models.Execution) {
	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	err := s.dispatch(ctx, exec)
	if err == nil {
		_ = s.store.AppendLog(exec.ID, fmt.Sprintf("dispatched %s to %s", exec.Kind, exec.Target))
		return
	}

	msg := apperr.Message(apperr.DispatchFailed(exec.Target, err))
	s.log.Errorf("execution %s: %s", exec.ID, msg)
	s.store.Fail(exec.ID, msg, models.SourceDispatch)
}

func (s *OperationService) dispatch(ctx context.Context, exec models.Execution) error {
	if s.actors == nil {
		return remote.ErrUnknownActor
	}
	actor, ok := s.actors.Get(exec.Target)
	if !ok {
		return fmt.Errorf("%w: %s", remote.ErrUnknownActor, exec.Target)
	}
	return actor.Dispatch(ctx, remote.Operation{
		ExecutionID: exec.ID,
		Kind:        exec.Kind,
		Command:     exec.Command,
		CallbackURL: s.CallbackURL(exec.ID),
	})
}

// StartBatch fans action out to every target. The parent kind is
// "<action>-all" and each child runs "<action>".
func (s *OperationService) StartBatch(ctx context.Context, action string, targets []string, parentID, command string) (string, []string, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return "", nil, apperr.InvalidRequest("action is required")
	}
	if s.batches == nil {
		return "", nil, apperr.InvalidRequest("batches are not enabled")
	}
	if err := validateOperation(parentID, models.BatchTarget, action, command); err != nil {
		return "", nil, err
	}

	seen := make(map[string]bool, len(targets))
	children := make([]ChildSpec, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		if err := validation.ValidateName(t); err != nil {
			return "", nil, apperr.InvalidRequest(fmt.Sprintf("target %q: %v", t, err))
		}
		seen[t] = true
		children = append(children, ChildSpec{Target: t, Kind: action, Command: command})
	}
	if len(children) == 0 {
		return "", nil, apperr.InvalidRequest("at least one target is required")
	}

	return s.batches.StartBatch(ctx, BatchRequest{
		ParentID: parentID,
		Target:   models.BatchTarget,
		Kind:     action + "-all",
		Command:  command,
		Children: children,
	})
}

// CallbackURL is where the actor reports completion of execution id.
func (s *OperationService) CallbackURL(id string) string {
	return s.callbackBase + "/executions/" + id
}

func validateOperation(id, target, kind, command string) error {
	if id != "" {
		if err := validation.ValidateName(id); err != nil {
			return apperr.InvalidRequest(fmt.Sprintf("id %q: %v", id, err))
		}
	}
	if err := validation.ValidateName(target); err != nil {
		return apperr.InvalidRequest(fmt.Sprintf("target %q: %v", target, err))
	}
	if err := validation.ValidateName(kind); err != nil {
		return apperr.InvalidRequest(fmt.Sprintf("kind %q: %v", kind, err))
	}
	if err := validation.ValidateCommand(command); err != nil {
		return apperr.InvalidRequest("command: " + err.Error())
	}
	return nil
}
