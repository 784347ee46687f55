package remote

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessHandle is a local process matched by name.
type ProcessHandle interface {
	Name() string
	Kill(ctx context.Context) error
}

// ProcessLister enumerates local processes.
type ProcessLister func(ctx context.Context) ([]ProcessHandle, error)

// ProcessActor observes a local process by executable name.
type ProcessActor struct {
	Process string
	List    ProcessLister
}

func NewProcessActor(name string) *ProcessActor {
	return &ProcessActor{Process: name, List: listSystemProcesses}
}

func (p *ProcessActor) matching(ctx context.Context) ([]ProcessHandle, error) {
	procs, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []ProcessHandle
	for _, proc := range procs {
		if strings.EqualFold(proc.Name(), p.Process) {
			out = append(out, proc)
		}
	}
	return out, nil
}

func (p *ProcessActor) Observe(ctx context.Context) (Observation, error) {
	procs, err := p.matching(ctx)
	if err != nil {
		return Observation{State: models.ActorUnknown}, fmt.Errorf("failed to list processes: %w", err)
	}
	if len(procs) == 0 {
		return Observation{State: models.ActorStopped, Detail: "no matching process"}, nil
	}
	return Observation{State: models.ActorRunning, Detail: fmt.Sprintf("%d process(es)", len(procs))}, nil
}

// Terminate kills every process matching the name.
func (p *ProcessActor) Terminate(ctx context.Context) error {
	procs, err := p.matching(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}
	var errs []error
	for _, proc := range procs {
		if err := proc.Kill(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type systemProcess struct {
	proc *process.Process
	name string
}

func (s systemProcess) Name() string { return s.name }

func (s systemProcess) Kill(ctx context.Context) error {
	return s.proc.KillWithContext(ctx)
}

func listSystemProcesses(ctx context.Context) ([]ProcessHandle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessHandle, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil || name == "" {
			// processes can exit between enumeration and inspection
			continue
		}
		out = append(out, systemProcess{proc: proc, name: filepath.Base(name)})
	}
	return out, nil
}
