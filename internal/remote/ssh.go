package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Data-Integrities/backend-ai/internal/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// CommandRunner runs a shell command on a remote host.
type CommandRunner interface {
	Run(ctx context.Context, host, command string, env map[string]string) (string, error)
}

// SSHRunner runs commands over SSH with key authentication.
type SSHRunner struct {
	port   int
	config *ssh.ClientConfig
}

func NewSSHRunner(cfg config.SSHConfig) (*SSHRunner, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &SSHRunner{
		port: cfg.Port,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.GetTimeout(),
		},
	}, nil
}

// Run executes command on host with env exported first. The session is closed
// when ctx is cancelled.
func (r *SSHRunner) Run(ctx context.Context, host, command string, env map[string]string) (string, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(r.port))
	}

	client, err := ssh.Dial("tcp", addr, r.config)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(withEnv(command, env))
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		out := strings.TrimSpace(string(res.out))
		if res.err != nil {
			if out != "" {
				return out, fmt.Errorf("%w: %s", res.err, lastLine(out))
			}
			return out, res.err
		}
		return out, nil
	case <-ctx.Done():
		_ = session.Close()
		return "", ctx.Err()
	}
}

func withEnv(command string, env map[string]string) string {
	if len(env) == 0 {
		return command
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(env[k]))
	}
	b.WriteString(command)
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SSHCommands maps operation kinds to configured shell commands on one host.
type SSHCommands struct {
	Runner       CommandRunner
	Host         string
	StartCommand string
	StopCommand  string
	KillCommand  string
}

// Dispatch runs the command matching the operation kind. The remote script is
// expected to report back through CALLBACK_URL.
func (c *SSHCommands) Dispatch(ctx context.Context, op Operation) error {
	var commands []string
	switch {
	case hasKindPrefix(op.Kind, "start-", "deploy-"):
		commands = []string{c.StartCommand}
	case hasKindPrefix(op.Kind, "stop-"):
		commands = []string{c.StopCommand}
	case hasKindPrefix(op.Kind, "restart-"):
		commands = []string{c.StopCommand, c.StartCommand}
	case hasKindPrefix(op.Kind, "kill-", "terminate-"):
		commands = []string{c.KillCommand}
	}

	env := map[string]string{
		"EXECUTION_ID": op.ExecutionID,
		"CALLBACK_URL": op.CallbackURL,
		"KIND":         op.Kind,
	}
	ran := false
	for _, cmd := range commands {
		if cmd == "" {
			continue
		}
		if _, err := c.Runner.Run(ctx, c.Host, cmd, env); err != nil {
			return err
		}
		ran = true
	}
	if !ran {
		return fmt.Errorf("%w: kind %q on %s", ErrNoTransport, op.Kind, c.Host)
	}
	return nil
}

// Terminate runs the kill command.
func (c *SSHCommands) Terminate(ctx context.Context) error {
	if c.KillCommand == "" {
		return ErrNoTermination
	}
	_, err := c.Runner.Run(ctx, c.Host, c.KillCommand, nil)
	return err
}

func hasKindPrefix(kind string, prefixes ...string) bool {
	k := strings.ToLower(kind)
	for _, p := range prefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}
