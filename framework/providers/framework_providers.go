package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/config"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/routing"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the typed configuration as "config" and copies
// the application settings into the parameter bag.
//
// Bound ids:
//   - "config"         → *config.Config
//   - "configuration"  → alias of "config"
//
// Parameters: app.name, app.env, app.debug, app.url, app.port.
type ConfigServiceProvider struct {
	container.BaseProvider
	Config *config.Config
}

func (p *ConfigServiceProvider) Define(b *builder.Builder) error {
	params := map[string]any{
		"app.name":  p.Config.App.Name,
		"app.env":   p.Config.App.Env,
		"app.debug": p.Config.App.Debug,
		"app.url":   p.Config.App.URL,
		"app.port":  p.Config.App.Port,
	}
	for key, v := range params {
		if err := b.SetParameter(key, v); err != nil {
			return err
		}
	}
	return b.SetAlias("configuration", "config")
}

func (p *ConfigServiceProvider) Factories() map[string]container.Factory {
	return map[string]container.Factory{
		"config": func(c container.Lookup) (any, error) { return p.Config, nil },
	}
}

// ── LogServiceProvider ────────────────────────────────────────────────────────

// LogServiceProvider binds the process logger as "logger".
type LogServiceProvider struct {
	container.BaseProvider
	Logger *zap.Logger
}

func (p *LogServiceProvider) Factories() map[string]container.Factory {
	return map[string]container.Factory{
		"logger": func(c container.Lookup) (any, error) {
			if p.Logger == nil {
				return zap.NewNop(), nil
			}
			return p.Logger, nil
		},
	}
}

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider registers the HTTP router.
//
// Bound ids:
//   - "router"  → *routing.Router
//
// The container inspection routes are mounted under Prefix when the
// app.debug parameter is true. Metrics are served at /metrics when Gatherer
// is set.
type RoutingServiceProvider struct {
	container.BaseProvider
	Prefix   string // default: "/_container"
	Gatherer prometheus.Gatherer
}

func (p *RoutingServiceProvider) Factories() map[string]container.Factory {
	return map[string]container.Factory{
		"router": func(c container.Lookup) (any, error) {
			logger := zap.NewNop()
			if c.Has("logger") {
				l, err := container.Resolve[*zap.Logger](c, "logger")
				if err != nil {
					return nil, err
				}
				logger = l
			}
			r := routing.New(logger)

			if debug, _ := c.Parameter("app.debug"); debug == true {
				self, err := container.Resolve[*container.Container](c, container.ServiceContainerID)
				if err != nil {
					return nil, err
				}
				prefix := p.Prefix
				if prefix == "" {
					prefix = "/_container"
				}
				r.Prefix(prefix, func(sub *routing.Router) { sub.MountContainer(self) })
			}
			if p.Gatherer != nil {
				r.MountMetrics("/metrics", p.Gatherer)
			}
			return r, nil
		},
	}
}

// Tags marks the router as the application's HTTP entry point.
func (p *RoutingServiceProvider) Tags() map[string][]string {
	return map[string][]string{"http.handler": {"router"}}
}
