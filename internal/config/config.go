package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Complexity is one of the four task complexity buckets used to
// resolve which agent handles a task, per §6.2.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

var allComplexities = []Complexity{ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex}

// ComplexityRoute names the agent (and optional model/args override) a
// complexity bucket routes to. Config accepts either a bare agent name
// string or the expanded {agent, model, args} form; UnmarshalYAML
// normalizes both into this struct.
type ComplexityRoute struct {
	Agent string   `yaml:"agent"`
	Model string   `yaml:"model,omitempty"`
	Args  []string `yaml:"args,omitempty"`
}

func (r *ComplexityRoute) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Agent)
	}
	type plain ComplexityRoute
	return value.Decode((*plain)(r))
}

// AgentConfig is one entry under the `agents` map: the command used to
// spawn that agent and its invocation/concurrency defaults.
type AgentConfig struct {
	Command       string            `yaml:"command"`
	PromptArgs    []string          `yaml:"prompt_args"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	Model         *string           `yaml:"model"`
	ResumeArgs    []string          `yaml:"resume_args"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	MaxAttempts   int               `yaml:"max_attempts"`
	MaxRetries    int               `yaml:"max_retries"`
}

func (a *AgentConfig) applyDefaults() {
	if a.PromptArgs == nil {
		a.PromptArgs = []string{"-p"}
	}
	if a.Args == nil {
		a.Args = []string{}
	}
	if a.Env == nil {
		a.Env = map[string]string{}
	}
	if a.ResumeArgs == nil {
		a.ResumeArgs = []string{}
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = 2
	}
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = 5
	}
}

// OtelConfig holds the optional OTLP exporter endpoint.
type OtelConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Config is the full decoded shape of .fuel/config.yaml (§6.2), plus
// the ambient keys carried over from the teacher's config surface.
type Config struct {
	HomeDir string `yaml:"-"`

	Primary     string                         `yaml:"primary"`
	Review      string                         `yaml:"review"`
	Complexity  map[Complexity]ComplexityRoute `yaml:"complexity"`
	Agents      map[string]AgentConfig         `yaml:"agents"`
	ConsumePort int                            `yaml:"consume_port"`

	LogLevel                string     `yaml:"log_level"`
	Otel                    OtelConfig `yaml:"otel"`
	BindAddr                string     `yaml:"bind_addr"`
	AllowRemote             bool       `yaml:"allow_remote"`
	RetentionTaskEventsDays int        `yaml:"retention_task_events_days"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel:                "info",
		BindAddr:                "127.0.0.1",
		RetentionTaskEventsDays: 0,
	}
}

func HomeDir() string {
	if override := os.Getenv("FUEL_HOME"); override != "" {
		return override
	}
	return ".fuel"
}

// Load reads config.yaml from homeDir, applies defaults, and validates
// the result per §6.2. Errors are plain fmt.Errorf wraps, not
// storeerr types — config is loaded before any repository exists.
func Load(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	configPath := ConfigPath(homeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: %s not found", configPath)
		}
		return cfg, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1"
	}
	if cfg.Review == "" {
		cfg.Review = cfg.Primary
	}
	for name, agent := range cfg.Agents {
		agent.applyDefaults()
		cfg.Agents[name] = agent
	}
}

// validate enforces §6.2's constraints: primary is required, every
// complexity key is one of the four known buckets, every agent
// reference (primary, review, complexity routes) names a defined
// agent, every agent has a command, and the IPC listener binds to
// loopback unless allow_remote is explicitly set (§6.1) — the wire
// protocol carries no auth, so a non-loopback bind_addr is a live
// unauthenticated-command risk unless an operator opts in.
func validate(cfg *Config) error {
	if cfg.Primary == "" {
		return fmt.Errorf("config: primary is required")
	}
	if !cfg.AllowRemote && !isLoopbackAddr(cfg.BindAddr) {
		return fmt.Errorf("config: bind_addr %q is not loopback; set allow_remote: true to bind a non-local interface", cfg.BindAddr)
	}
	if _, ok := cfg.Agents[cfg.Primary]; !ok {
		return fmt.Errorf("config: primary agent %q is not defined under agents", cfg.Primary)
	}
	if cfg.Review != "" {
		if _, ok := cfg.Agents[cfg.Review]; !ok {
			return fmt.Errorf("config: review agent %q is not defined under agents", cfg.Review)
		}
	}
	for name, agent := range cfg.Agents {
		if agent.Command == "" {
			return fmt.Errorf("config: agent %q is missing command", name)
		}
	}
	for key, route := range cfg.Complexity {
		if !isKnownComplexity(key) {
			return fmt.Errorf("config: unknown complexity key %q", key)
		}
		if route.Agent == "" {
			return fmt.Errorf("config: complexity %q has no agent", key)
		}
		if _, ok := cfg.Agents[route.Agent]; !ok {
			return fmt.Errorf("config: complexity %q references undefined agent %q", key, route.Agent)
		}
	}
	return nil
}

// isLoopbackAddr reports whether addr (a bind_addr value, not a
// host:port pair) resolves to the loopback interface.
func isLoopbackAddr(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func isKnownComplexity(c Complexity) bool {
	for _, k := range allComplexities {
		if k == c {
			return true
		}
	}
	return false
}

// AgentFor resolves the agent name that should handle a task of the
// given complexity, falling back to primary when no route is
// configured for that bucket.
func (c Config) AgentFor(complexity Complexity) ComplexityRoute {
	if route, ok := c.Complexity[complexity]; ok {
		return route
	}
	return ComplexityRoute{Agent: c.Primary}
}

// AppendAgent adds or overwrites one entry under config.yaml's agents map.
// WARNING: round-trips through yaml.Marshal, so comments and key order in
// an existing config.yaml are not preserved.
func AppendAgent(configPath, name string, agent AgentConfig) error {
	cfg := Config{}
	data, err := os.ReadFile(configPath)
	if err == nil && len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}

	if cfg.Agents == nil {
		cfg.Agents = make(map[string]AgentConfig)
	}
	if _, exists := cfg.Agents[name]; exists {
		return fmt.Errorf("agent %q already exists — remove it from config.yaml first to replace it", name)
	}
	cfg.Agents[name] = agent

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("FUEL_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("FUEL_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("FUEL_CONSUME_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ConsumePort = v
		}
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); raw != "" {
		cfg.Otel.Endpoint = raw
	}
}
