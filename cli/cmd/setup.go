package cmd

import (
	"fmt"
	"maps"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/adapter"
	"github.com/pithecene-io/loupe/adapter/redis"
	"github.com/pithecene-io/loupe/adapter/webhook"
	"github.com/pithecene-io/loupe/cli/config"
	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/log"
	"github.com/pithecene-io/loupe/metrics"
	"github.com/pithecene-io/loupe/relay"
)

// setup holds what every command builds from flags and the config file.
type setup struct {
	config    *config.Config
	logger    *log.Logger
	forwarder *relay.Forwarder
	metrics   *metrics.Collector
	adapter   adapter.Adapter
}

// newSetup resolves flags over the config file and builds the shared
// components. surface labels the metrics ("cli", "server"). The completion
// adapter is built only when withAdapter is set.
func newSetup(c *cli.Context, surface string, withAdapter bool) (*setup, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger, err := log.NewLoggerWithWriter(level, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}

	headers := maps.Clone(cfg.Headers)
	flagHeaders, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return nil, err
	}
	if headers == nil {
		headers = flagHeaders
	} else {
		maps.Copy(headers, flagHeaders)
	}

	fwd := relay.New(relay.Config{
		Endpoint: config.ResolveEndpoint(c.String("endpoint"), cfg),
		Headers:  headers,
	})

	s := &setup{
		config:    cfg,
		logger:    logger,
		forwarder: fwd,
		metrics:   metrics.NewCollector(fwd.Endpoint(), surface),
	}
	if withAdapter {
		if s.adapter, err = buildAdapter(c, cfg.Adapter); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// sentinels returns the flag sentinels, or the config file's.
func (s *setup) sentinels(c *cli.Context) []string {
	if c.IsSet("sentinel") {
		return c.StringSlice("sentinel")
	}
	return s.config.Sentinels
}

// lineBreak returns the flag line break, or the config file's.
func (s *setup) lineBreak(c *cli.Context) string {
	if c.IsSet("line-break") {
		return config.DecodeLineBreak(c.String("line-break"))
	}
	return s.config.LineBreak
}

func (s *setup) maxFrameSize(c *cli.Context) int {
	if c.IsSet("max-frame-size") {
		return c.Int("max-frame-size")
	}
	return s.config.MaxFrameSize
}

func (s *setup) strictContract(c *cli.Context) bool {
	if c.IsSet("strict-contract") {
		return c.Bool("strict-contract")
	}
	return s.config.StrictContract
}

// close releases the adapter and flushes the logger.
func (s *setup) close() {
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
		}
	}
	iox.DiscardErr(s.logger.Sync)
}

// buildAdapter creates the completion adapter, or nil when none is chosen.
func buildAdapter(c *cli.Context, file config.AdapterConfig) (adapter.Adapter, error) {
	kind := file.Type
	if c.IsSet("adapter") {
		kind = c.String("adapter")
	}
	url := file.URL
	if c.IsSet("adapter-url") {
		url = c.String("adapter-url")
	}
	timeout := file.Timeout.Duration
	if c.IsSet("adapter-timeout") {
		timeout = c.Duration("adapter-timeout")
	}
	retries := c.Int("adapter-retries")
	if !c.IsSet("adapter-retries") && file.Retries != nil {
		retries = *file.Retries
	}

	switch strings.ToLower(kind) {
	case "", "none":
		return nil, nil
	case "webhook":
		headers := maps.Clone(file.Headers)
		flagHeaders, err := parseHeaders(c.StringSlice("adapter-header"))
		if err != nil {
			return nil, err
		}
		if headers == nil {
			headers = flagHeaders
		} else {
			maps.Copy(headers, flagHeaders)
		}
		a, err := webhook.New(webhook.Config{
			URL:     url,
			Headers: headers,
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		channel := file.Channel
		if c.IsSet("adapter-channel") {
			channel = c.String("adapter-channel")
		}
		a, err := redis.New(redis.Config{
			URL:     url,
			Channel: channel,
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", kind)
	}
}

// parseHeaders parses Key=Value pairs.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q (want Key=Value)", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
