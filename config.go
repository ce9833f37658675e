package calltrace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultOutput is the trace path used when none is configured.
const DefaultOutput = "trace.json"

// Config holds session configuration. It can be loaded from a TOML file:
//
//	output       = "trace.json"
//	process_name = "go"
//	thread_name  = "main"
//	max_events   = 16777216
//	record       = "events.msgpack"
type Config struct {
	Output      string `toml:"output"`
	ProcessName string `toml:"process_name"`
	ThreadName  string `toml:"thread_name"`
	Record      string `toml:"record"`     // raw notification dump, empty to disable
	MaxEvents   int    `toml:"max_events"` // buffer bound
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Output:      DefaultOutput,
		ProcessName: DefaultProcessName,
		ThreadName:  DefaultThreadName,
		MaxEvents:   DefaultMaxEvents,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration values that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, errors.New("output must not be empty"))
	}
	if c.MaxEvents < 0 {
		errs = append(errs, fmt.Errorf("invalid max_events: %d (expected >= 0)", c.MaxEvents))
	}
	if c.Record != "" && c.Record == c.Output {
		errs = append(errs, fmt.Errorf("record path %q must differ from output", c.Record))
	}
	return errors.Join(errs...)
}
