// Package config loads runner configuration. Values are layered: defaults,
// then a YAML or TOML file, then SIDE_* environment variables. CLI flags are
// applied last by the command that loads it.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/governance"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SIDE_"

// Config is the runner configuration.
type Config struct {
	Browser      BrowserConfig `yaml:"browser" toml:"browser" envPrefix:"BROWSER_"`
	BaseURL      string        `yaml:"baseUrl" toml:"base_url" env:"BASE_URL"`
	ImplicitWait time.Duration `yaml:"implicitWait" toml:"implicit_wait" env:"IMPLICIT_WAIT"`

	// RetryInterval is the first backoff step between retries of a command
	// that failed transiently.
	RetryInterval time.Duration     `yaml:"retryInterval" toml:"retry_interval" env:"RETRY_INTERVAL"`
	LoopLimit     int               `yaml:"loopLimit" toml:"loop_limit" env:"LOOP_LIMIT"`
	MaxWorkers    int               `yaml:"maxWorkers" toml:"max_workers" env:"MAX_WORKERS"`
	Filter        string            `yaml:"filter" toml:"filter" env:"FILTER"`
	Params        map[string]string `yaml:"params" toml:"params" env:"PARAMS"`

	Screenshots ScreenshotConfig `yaml:"screenshots" toml:"screenshots" envPrefix:"SCREENSHOT_"`
	Output      OutputConfig     `yaml:"output" toml:"output" envPrefix:"OUTPUT_"`
	Log         LogConfig        `yaml:"log" toml:"log" envPrefix:"LOG_"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" toml:"telemetry" envPrefix:"OTEL_"`
	Policy      PolicyConfig     `yaml:"policy" toml:"policy" envPrefix:"POLICY_"`
}

// BrowserConfig describes the browser session. It maps onto
// driver.Capabilities.
type BrowserConfig struct {
	Name     string         `yaml:"name" toml:"name" env:"NAME"`
	Headless bool           `yaml:"headless" toml:"headless" env:"HEADLESS"`
	Server   string         `yaml:"server" toml:"server" env:"SERVER"`
	ExecPath string         `yaml:"execPath" toml:"exec_path" env:"EXEC_PATH"`
	Width    int            `yaml:"width" toml:"width" env:"WIDTH"`
	Height   int            `yaml:"height" toml:"height" env:"HEIGHT"`
	Args     []string       `yaml:"args" toml:"args" env:"ARGS" envSeparator:" "`
	Extra    map[string]any `yaml:"extra" toml:"extra"`
}

type ScreenshotConfig struct {
	FailureDir  string `yaml:"failureDir" toml:"failure_dir" env:"FAILURE_DIR"`
	SuccessDir  string `yaml:"successDir" toml:"success_dir" env:"SUCCESS_DIR"`
	SuccessFile string `yaml:"successFile" toml:"success_file" env:"SUCCESS_FILE"`
}

type OutputConfig struct {
	Dir   string `yaml:"dir" toml:"dir" env:"DIR"`
	Trace bool   `yaml:"trace" toml:"trace" env:"TRACE"`

	// Secrets are variable names whose values are redacted from traces and
	// result files.
	Secrets []string `yaml:"secrets" toml:"secrets" env:"SECRETS"`

	// SigningKey is a hex-encoded HMAC key for trace signatures.
	SigningKey string `yaml:"-" toml:"-" env:"SIGNING_KEY"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	Disabled bool   `yaml:"disabled" toml:"disabled" env:"DISABLED"`
}

// PolicyConfig lists command name patterns, e.g. "execute*". Deny wins over
// allow; an empty allow list permits every command not denied.
type PolicyConfig struct {
	Allow []string `yaml:"allow" toml:"allow" env:"ALLOW"`
	Deny  []string `yaml:"deny" toml:"deny" env:"DENY"`
}

// Policy returns the command policy.
func (p PolicyConfig) Policy() governance.Policy {
	return governance.Policy{AllowedCommands: p.Allow, DeniedCommands: p.Deny}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Browser:       BrowserConfig{Name: "chrome", Headless: true},
		ImplicitWait:  5 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		LoopLimit:     1000,
		MaxWorkers:    1,
		Output:        OutputConfig{Dir: "runs"},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPaths are tried, in order, when Load gets no explicit path.
var DefaultPaths = []string{".side.yaml", ".side.yml", ".side.toml"}

// Load reads the configuration. An empty path tries DefaultPaths and keeps
// the defaults when none exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".yaml", ".yml", ".json":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format (use .yaml, .yml, .json or .toml)", path)
	}
	return nil
}

// Validate rejects values no run can use.
func (c Config) Validate() error {
	var problems []string
	if c.ImplicitWait < 0 {
		problems = append(problems, "implicitWait must not be negative")
	}
	if c.RetryInterval < 0 {
		problems = append(problems, "retryInterval must not be negative")
	}
	if c.MaxWorkers < 1 {
		problems = append(problems, "maxWorkers must be at least 1")
	}
	if c.LoopLimit < 0 {
		problems = append(problems, "loopLimit must not be negative")
	}
	if c.Browser.Width < 0 || c.Browser.Height < 0 {
		problems = append(problems, "browser width and height must not be negative")
	}
	if _, err := c.SigningKey(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Policy.Policy().Validate(); err != nil {
		problems = append(problems, "policy: "+err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SigningKey decodes Output.SigningKey. It is nil when no key is set.
func (c Config) SigningKey() ([]byte, error) {
	if c.Output.SigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Output.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing key must be hex: %w", err)
	}
	return key, nil
}

// Capabilities maps the browser section onto driver capabilities.
func (b BrowserConfig) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		BrowserName: b.Name,
		Headless:    b.Headless,
		ServerURL:   b.Server,
		ExecPath:    b.ExecPath,
		Window:      driver.Rect{Width: b.Width, Height: b.Height},
		Args:        b.Args,
		Extra:       b.Extra,
	}
}

// Runner builds the orchestrator configuration. vars supplies the values of
// the variables named in Output.Secrets.
func (c Config) Runner(vars map[string]any, interactive bool) runner.Config {
	var secrets []string
	for _, name := range c.Output.Secrets {
		if v, ok := vars[name].(string); ok && v != "" {
			secrets = append(secrets, v)
		}
	}
	key, _ := c.SigningKey()
	return runner.Config{
		Capabilities:  c.Browser.Capabilities(),
		BaseURL:       c.BaseURL,
		ImplicitWait:  c.ImplicitWait,
		RetryInterval: c.RetryInterval,
		LoopLimit:     c.LoopLimit,
		MaxWorkers:    c.MaxWorkers,
		Screenshots: runner.ScreenshotConfig{
			FailureDir:  c.Screenshots.FailureDir,
			SuccessDir:  c.Screenshots.SuccessDir,
			SuccessFile: c.Screenshots.SuccessFile,
		},
		OutputDir:   c.Output.Dir,
		Trace:       c.Output.Trace,
		Secrets:     secrets,
		SigningKey:  key,
		Interactive: interactive,
		Policy:      c.Policy.Policy(),
	}
}

// Vars returns Params as the seed of a variable context.
func (c Config) Vars() map[string]any {
	out := make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		out[k] = v
	}
	return out
}
