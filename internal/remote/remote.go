// Package remote holds the transports used to reach remote actors: dispatching
// operations, observing their state and force-terminating them.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/config"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
)

var (
	ErrNoTransport   = errors.New("no transport configured for this operation")
	ErrUnknownActor  = errors.New("unknown actor")
	ErrNoTermination = errors.New("actor has no termination transport")
)

// Operation is the payload handed to a dispatcher.
type Operation struct {
	ExecutionID string `json:"execution_id"`
	Kind        string `json:"kind"`
	Command     string `json:"command"`
	CallbackURL string `json:"callback_url"`
}

type Observation struct {
	State  models.ActorState
	Detail string
}

type Observer interface {
	Observe(ctx context.Context) (Observation, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, op Operation) error
}

type Terminator interface {
	Terminate(ctx context.Context) error
}

// Actor binds the transports configured for one remote actor. Any of them may be nil.
type Actor struct {
	Name       string
	Type       string
	Observer   Observer
	Dispatcher Dispatcher
	Terminator Terminator
}

func (a *Actor) Observe(ctx context.Context) (Observation, error) {
	if a.Observer == nil {
		return Observation{State: models.ActorUnknown}, ErrNoTransport
	}
	return a.Observer.Observe(ctx)
}

func (a *Actor) Dispatch(ctx context.Context, op Operation) error {
	if a.Dispatcher == nil {
		return ErrNoTransport
	}
	return a.Dispatcher.Dispatch(ctx, op)
}

func (a *Actor) Terminate(ctx context.Context) error {
	if a.Terminator == nil {
		return ErrNoTermination
	}
	return a.Terminator.Terminate(ctx)
}

// Registry resolves actor names to their transports.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

func NewRegistry() *Registry {
	return &Registry{actors: make(map[string]*Actor)}
}

// BuildRegistry creates the actors described in cfg.Agents.
func BuildRegistry(cfg *config.Config, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry()
	log = log.Component("remote")

	var ssh *SSHRunner
	if cfg.SSH.KeyPath != "" {
		runner, err := NewSSHRunner(cfg.SSH)
		if err != nil {
			log.Warnf("ssh transport disabled: %v", err)
		} else {
			ssh = runner
		}
	}

	var docker ContainerAPI
	for _, ac := range cfg.Agents {
		if ac.Type == config.ActorTypeContainer && docker == nil {
			cli, err := NewDockerClient()
			if err != nil {
				return nil, fmt.Errorf("docker client: %w", err)
			}
			docker = cli
		}
	}

	for _, ac := range cfg.Agents {
		actor, err := buildActor(ac, cfg.Poller.GetRequestTimeout(), ssh, docker)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", ac.Name, err)
		}
		reg.Register(actor)
		log.Infof("registered actor %s (%s)", actor.Name, actor.Type)
	}
	return reg, nil
}

func buildActor(ac config.AgentConfig, timeout time.Duration, ssh *SSHRunner, docker ContainerAPI) (*Actor, error) {
	if ac.Name == "" {
		return nil, errors.New("name is required")
	}
	actor := &Actor{Name: ac.Name, Type: ac.Type}

	var sshCmds *SSHCommands
	if ssh != nil && ac.Host != "" {
		sshCmds = &SSHCommands{
			Runner:       ssh,
			Host:         ac.Host,
			StartCommand: ac.StartCommand,
			StopCommand:  ac.StopCommand,
			KillCommand:  ac.KillCommand,
		}
	}

	switch ac.Type {
	case config.ActorTypeAgent:
		if ac.URL == "" {
			return nil, errors.New("agent actors need a url")
		}
		client := NewAgentClient(ac.URL, timeout)
		actor.Observer = client
		actor.Dispatcher = client
		if sshCmds != nil && (ac.StartCommand != "" || ac.StopCommand != "") {
			actor.Dispatcher = sshCmds
		}
		if sshCmds != nil && ac.KillCommand != "" {
			actor.Terminator = sshCmds
		}
	case config.ActorTypeContainer:
		if docker == nil {
			return nil, errors.New("docker is not available")
		}
		name := ac.Container
		if name == "" {
			name = ac.Name
		}
		c := &ContainerActor{API: docker, Container: name}
		actor.Observer = c
		actor.Dispatcher = c
		actor.Terminator = c
	case config.ActorTypeProcess:
		name := ac.Process
		if name == "" {
			name = ac.Name
		}
		p := NewProcessActor(name)
		actor.Observer = p
		actor.Terminator = p
		if sshCmds != nil {
			actor.Dispatcher = sshCmds
		} else {
			actor.Dispatcher = observeOnly{}
		}
	default:
		return nil, fmt.Errorf("unknown actor type %q", ac.Type)
	}
	return actor, nil
}

func (r *Registry) Register(a *Actor) {
	r.mu.Lock()
	r.actors[a.Name] = a
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[name]
	return a, ok
}

// List returns the actors sorted by name.
func (r *Registry) List() []*Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// observeOnly accepts operations that complete through observation alone.
type observeOnly struct{}

func (observeOnly) Dispatch(context.Context, Operation) error { return nil }

// ParseState maps a free-form state reported by an actor to an ActorState.
func ParseState(s string) models.ActorState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "online", "up", "ok", "healthy", "started", "active":
		return models.ActorRunning
	case "stopped", "offline", "down", "exited", "dead", "inactive", "terminated":
		return models.ActorStopped
	default:
		return models.ActorUnknown
	}
}
