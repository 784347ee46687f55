package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ActorTypeAgent     = "agent"
	ActorTypeContainer = "container"
	ActorTypeProcess   = "process"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Execution ExecutionConfig `yaml:"execution"`
	Poller    PollerConfig    `yaml:"poller"`
	Queue     QueueConfig     `yaml:"queue"`
	Stream    StreamConfig    `yaml:"stream"`
	Batch     BatchConfig     `yaml:"batch"`
	History   HistoryConfig   `yaml:"history"`
	Callback  CallbackConfig  `yaml:"callback"`
	SSH       SSHConfig       `yaml:"ssh"`
	Agents    []AgentConfig   `yaml:"agents"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix"`
	PublicURL  string `yaml:"public_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExecutionConfig struct {
	DefaultTimeout   string `yaml:"default_timeout"`
	MaxRetained      int    `yaml:"max_retained"`
	Retention        string `yaml:"retention"`
	LogLimit         int    `yaml:"log_limit"`
	EscalationPolicy string `yaml:"escalation_policy"`
}

type PollerConfig struct {
	Interval       string `yaml:"interval"`
	RequestTimeout string `yaml:"request_timeout"`
}

type QueueConfig struct {
	WaitInterval string `yaml:"wait_interval"`
	DefaultTTL   string `yaml:"default_ttl"`
	Sweep        string `yaml:"sweep"`
	Grace        string `yaml:"grace"`
	MaxWait      string `yaml:"max_wait"`
}

type StreamConfig struct {
	Heartbeat string `yaml:"heartbeat"`
	Buffer    int    `yaml:"buffer"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type CallbackConfig struct {
	Token string `yaml:"token"`
}

type SSHConfig struct {
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	Port       int    `yaml:"port"`
	KnownHosts string `yaml:"known_hosts"`
	Timeout    string `yaml:"timeout"`
}

// AgentConfig describes one remote actor the engine dispatches to and observes.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Container    string `yaml:"container"`
	Process      string `yaml:"process"`
	StartCommand string `yaml:"start_command"`
	StopCommand  string `yaml:"stop_command"`
	KillCommand  string `yaml:"kill_command"`
}

func (c *ExecutionConfig) GetDefaultTimeout() time.Duration {
	return parseDuration(c.DefaultTimeout, 60*time.Second)
}

func (c *ExecutionConfig) GetRetention() time.Duration {
	return parseDuration(c.Retention, time.Hour)
}

func (c *PollerConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, 30*time.Second)
}

func (c *PollerConfig) GetRequestTimeout() time.Duration {
	return parseDuration(c.RequestTimeout, 5*time.Second)
}

func (c *QueueConfig) GetWaitInterval() time.Duration {
	return parseDuration(c.WaitInterval, 100*time.Millisecond)
}

func (c *QueueConfig) GetDefaultTTL() time.Duration {
	return parseDuration(c.DefaultTTL, 60*time.Second)
}

func (c *QueueConfig) GetGrace() time.Duration {
	return parseDuration(c.Grace, 5*time.Minute)
}

func (c *QueueConfig) GetMaxWait() time.Duration {
	return parseDuration(c.MaxWait, 120*time.Second)
}

func (c *StreamConfig) GetHeartbeat() time.Duration {
	return parseDuration(c.Heartbeat, 30*time.Second)
}

func (c *SSHConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// Agent returns the configured actor with the given name.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads the YAML file at path, applies environment overrides and defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			setDefaults(&cfg)
			applyEnv(&cfg)
			return &cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			setDefaults(&cfg)
			applyEnv(&cfg)
			return &cfg, err
		}
	}

	applyEnv(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CORRELATOR_CALLBACK_TOKEN"); v != "" {
		cfg.Callback.Token = v
	}
	if v := os.Getenv("CORRELATOR_SSH_KEY_PATH"); v != "" {
		cfg.SSH.KeyPath = v
	}
	if v := os.Getenv("CORRELATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORRELATOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Execution.DefaultTimeout == "" {
		cfg.Execution.DefaultTimeout = "60s"
	}
	if cfg.Execution.MaxRetained == 0 {
		cfg.Execution.MaxRetained = 1000
	}
	if cfg.Execution.Retention == "" {
		cfg.Execution.Retention = "1h"
	}
	if cfg.Execution.LogLimit == 0 {
		cfg.Execution.LogLimit = 500
	}
	if cfg.Poller.Interval == "" {
		cfg.Poller.Interval = "30s"
	}
	if cfg.Poller.RequestTimeout == "" {
		cfg.Poller.RequestTimeout = "5s"
	}
	if cfg.Queue.WaitInterval == "" {
		cfg.Queue.WaitInterval = "100ms"
	}
	if cfg.Queue.DefaultTTL == "" {
		cfg.Queue.DefaultTTL = "60s"
	}
	if cfg.Queue.Sweep == "" {
		cfg.Queue.Sweep = "@every 30s"
	}
	if cfg.Queue.Grace == "" {
		cfg.Queue.Grace = "5m"
	}
	if cfg.Queue.MaxWait == "" {
		cfg.Queue.MaxWait = "120s"
	}
	if cfg.Stream.Heartbeat == "" {
		cfg.Stream.Heartbeat = "30s"
	}
	if cfg.Stream.Buffer == 0 {
		cfg.Stream.Buffer = 256
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 8
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.Timeout == "" {
		cfg.SSH.Timeout = "10s"
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Type == "" {
			cfg.Agents[i].Type = ActorTypeAgent
		}
	}
}
