package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pithecene-io/loupe/relay"
)

// EnvEndpoint is the environment variable consulted for the backend address
// when neither a flag nor the config file sets one.
const EnvEndpoint = "API_ENDPOINT"

// Config represents a loupe.yaml configuration file.
// All values are optional and act as defaults for command flags.
// Flags always override config values.
type Config struct {
	Endpoint       string            `yaml:"endpoint"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Sentinels      []string          `yaml:"sentinels,omitempty"`
	LineBreak      string            `yaml:"line_break"`
	MaxFrameSize   int               `yaml:"max_frame_size"`
	StrictContract bool              `yaml:"strict_contract"`
	LogLevel       string            `yaml:"log_level"`
	Server         ServerConfig      `yaml:"server"`
	Adapter        AdapterConfig     `yaml:"adapter"`
}

// ServerConfig holds defaults for loupe serve.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

// AdapterConfig holds completion adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ResolveEndpoint picks the backend address.
//
// Precedence: flag, then the config file, then $API_ENDPOINT, then
// relay.DefaultEndpoint. cfg may be nil.
func ResolveEndpoint(flag string, cfg *Config) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	if cfg != nil {
		if v := strings.TrimSpace(cfg.Endpoint); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		return v
	}
	return relay.DefaultEndpoint
}

// DecodeLineBreak turns the escape sequences \n, \r and \t into the
// characters they name, so a line break can be given on the command line.
func DecodeLineBreak(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t").Replace(s)
}
