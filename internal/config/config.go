// Package config loads rm-pad's configuration. Sources are layered, later
// ones winning: built-in defaults, a YAML file, RMPAD_* environment
// variables and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/alvesvaren/rm-pad/internal/orientation"
)

const envPrefix = "RMPAD_"

// DefaultHost is the tablet's address on its USB network interface.
const DefaultHost = "10.11.99.1"

var defaults = map[string]interface{}{
	"host":        DefaultHost,
	"port":        22,
	"user":        "root",
	"key_path":    "",
	"password":    "",
	"known_hosts": "",

	"pen_device":     "",
	"touch_device":   "",
	"pen_only":       false,
	"touch_only":     false,
	"grab_input":     true,
	"palm_rejection": true,
	"palm_grace":     "500ms",
	"orientation":    orientation.LandscapeRight.String(),

	"liveness.path":        "/tmp/rm-pad-alive",
	"liveness.interval":    "2s",
	"liveness.stale_after": "8s",

	"agent.remote_path":   "/tmp/rm-pad-grab",
	"agent.local_dir":     "",
	"agent.poll_interval": "1s",

	"backoff.initial":         "500ms",
	"backoff.max":             "5s",
	"backoff.acquire_holdoff": "30s",

	"keepalive.interval": "5s",
	"keepalive.timeout":  "15s",

	"sink.uinput":    true,
	"sink.websocket": "",

	"metrics.listen": "",

	"log.level":       "info",
	"log.development": false,
}

type Config struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	Password   string
	KnownHosts string

	PenDevice     string
	TouchDevice   string
	PenOnly       bool
	TouchOnly     bool
	GrabInput     bool
	PalmRejection bool
	PalmGrace     time.Duration
	Orientation   orientation.Orientation

	Liveness  Liveness
	Agent     Agent
	Backoff   Backoff
	Keepalive Keepalive
	Sink      Sink

	MetricsListen  string
	LogLevel       string
	LogDevelopment bool

	// File is the config file that was loaded, if any.
	File string

	k *koanf.Koanf
}

type Liveness struct {
	Path       string
	Interval   time.Duration
	StaleAfter time.Duration
}

type Agent struct {
	RemotePath   string
	LocalDir     string
	PollInterval time.Duration
}

type Backoff struct {
	Initial        time.Duration
	Max            time.Duration
	AcquireHoldoff time.Duration
}

type Keepalive struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Sink struct {
	Uinput    bool
	WebSocket string
}

// Pen and Touch report which devices are forwarded.
func (c *Config) Pen() bool   { return !c.TouchOnly }
func (c *Config) Touch() bool { return !c.PenOnly }

// PalmRejectionActive reports whether the palm window applies: it needs
// both devices.
func (c *Config) PalmRejectionActive() bool {
	return c.PalmRejection && c.Pen() && c.Touch()
}

// Load builds the configuration. fs must have been registered with
// RegisterFlags and parsed; it may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path, explicit := configPath(fs)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			path = ""
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagValue), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	o, err := orientation.Parse(k.String("orientation"))
	if err != nil {
		return nil, err
	}
	c := &Config{
		Host:       k.String("host"),
		Port:       k.Int("port"),
		User:       k.String("user"),
		KeyPath:    expandHome(k.String("key_path")),
		Password:   k.String("password"),
		KnownHosts: expandHome(k.String("known_hosts")),

		PenDevice:     k.String("pen_device"),
		TouchDevice:   k.String("touch_device"),
		PenOnly:       k.Bool("pen_only"),
		TouchOnly:     k.Bool("touch_only"),
		GrabInput:     k.Bool("grab_input"),
		PalmRejection: k.Bool("palm_rejection"),
		PalmGrace:     k.Duration("palm_grace"),
		Orientation:   o,

		Liveness: Liveness{
			Path:       k.String("liveness.path"),
			Interval:   k.Duration("liveness.interval"),
			StaleAfter: k.Duration("liveness.stale_after"),
		},
		Agent: Agent{
			RemotePath:   k.String("agent.remote_path"),
			LocalDir:     expandHome(k.String("agent.local_dir")),
			PollInterval: k.Duration("agent.poll_interval"),
		},
		Backoff: Backoff{
			Initial:        k.Duration("backoff.initial"),
			Max:            k.Duration("backoff.max"),
			AcquireHoldoff: k.Duration("backoff.acquire_holdoff"),
		},
		Keepalive: Keepalive{
			Interval: k.Duration("keepalive.interval"),
			Timeout:  k.Duration("keepalive.timeout"),
		},
		Sink: Sink{
			Uinput:    k.Bool("sink.uinput"),
			WebSocket: k.String("sink.websocket"),
		},

		MetricsListen:  k.String("metrics.listen"),
		LogLevel:       k.String("log.level"),
		LogDevelopment: k.Bool("log.development"),

		File: path,
		k:    k,
	}
	return c, nil
}

// envKey maps RMPAD_LIVENESS__STALE_AFTER to liveness.stale_after.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// configPath picks the config file: --config, then RMPAD_CONFIG, then the
// first default location that exists.
func configPath(fs *pflag.FlagSet) (path string, explicit bool) {
	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			return expandHome(p), true
		}
	}
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return expandHome(p), true
	}
	candidates := []string{"rm-pad.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "rm-pad", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, false
		}
	}
	return "", false
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Host == "" {
		add("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		add("port %d out of range", c.Port)
	}
	if c.PenOnly && c.TouchOnly {
		add("pen_only and touch_only are mutually exclusive")
	}
	if c.PalmGrace < 0 {
		add("palm_grace must not be negative")
	}
	if c.Liveness.Path != "" {
		if c.Liveness.Interval <= 0 {
			add("liveness.interval must be positive")
		}
		if c.Liveness.Interval >= c.Liveness.StaleAfter {
			add("liveness.interval (%s) must be shorter than liveness.stale_after (%s)", c.Liveness.Interval, c.Liveness.StaleAfter)
		}
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Initial > c.Backoff.Max {
		add("backoff.initial (%s) must be positive and at most backoff.max (%s)", c.Backoff.Initial, c.Backoff.Max)
	}
	if c.Keepalive.Interval > 0 && c.Keepalive.Timeout <= 0 {
		add("keepalive.timeout must be positive when keepalive is enabled")
	}
	if !c.Sink.Uinput && c.Sink.WebSocket == "" {
		add("no sink enabled: set sink.uinput or sink.websocket")
	}
	return result.ErrorOrNil()
}

// WriteYAML prints the effective configuration. The password is masked.
func (c *Config) WriteYAML(w io.Writer) error {
	raw := c.k.Raw()
	if p, ok := raw["password"].(string); ok && p != "" {
		raw["password"] = "********"
	}
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(raw); err != nil {
		return err
	}
	return enc.Close()
}
