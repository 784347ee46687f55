package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/models"
)

// Expectation returns the actor state that confirms an operation of the given
// kind. Kinds without a known prefix can only be finalized by a callback.
func Expectation(kind string) (models.ActorState, bool) {
	k := strings.ToLower(kind)
	switch {
	case strings.HasPrefix(k, "start-"), strings.HasPrefix(k, "restart-"), strings.HasPrefix(k, "deploy-"):
		return models.ActorRunning, true
	case strings.HasPrefix(k, "stop-"), strings.HasPrefix(k, "kill-"), strings.HasPrefix(k, "terminate-"):
		return models.ActorStopped, true
	default:
		return "", false
	}
}

// reconcileObservation applies an observed actor state to the executions on
// target. Executions the state confirms get their detection time recorded
// even when another channel already finalized them; pending ones are then
// completed. It returns the number of executions this call finalized.
func reconcileObservation(store *ExecutionStore, target string, state models.ActorState, source models.Source, at, since time.Time) int {
	finalized := 0
	for _, exec := range store.ObserveTarget(target, state, at, since) {
		store.MarkPollDetected(exec.ID, at)
		if exec.Status != models.StatusPending {
			continue
		}
		if store.Complete(exec.ID, fmt.Sprintf("detected by %s: %s", detectionLabel(source), state), source) {
			finalized++
		}
	}
	return finalized
}

func detectionLabel(source models.Source) string {
	if source == models.SourcePush {
		return "push event"
	}
	return "polling"
}
