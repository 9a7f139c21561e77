// Package cli implements the pricecheck command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/matzehuels/pricecheck/internal/config"
	"github.com/matzehuels/pricecheck/pkg/buildinfo"
	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/httputil"
	"github.com/matzehuels/pricecheck/pkg/integrations"
	"github.com/matzehuels/pricecheck/pkg/observability"
)

// =============================================================================
// Constants
// =============================================================================

const appName = "pricecheck"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	verbose    bool
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// SetVerbose switches to debug logging and detailed retry logs,
// overriding the config file.
func (c *CLI) SetVerbose(v bool) {
	c.verbose = v
	if v {
		c.SetLogLevel(LogDebug)
	}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "pricecheck queries rate-limited price APIs politely",
		Long:         `pricecheck fetches data from upstream price APIs through a shared client that rate-limits, caches and retries every call. It can also run as a local caching proxy.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadConfig(); err != nil {
				return err
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/pricecheck/config.toml)")

	root.AddCommand(c.getCommand())
	root.AddCommand(c.postCommand())
	root.AddCommand(c.upstreamsCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}

func (c *CLI) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	if !c.verbose {
		c.SetLogLevel(cfg.LogLevel())
	}
	c.Logger.Debug("config loaded", "path", c.configPath, "upstreams", cfg.UpstreamNames())
	return nil
}

func (c *CLI) retryVerbosity() httputil.Verbosity {
	if c.verbose {
		return httputil.VerbosityDetailed
	}
	return c.cfg.RetryVerbosity()
}

// =============================================================================
// Registry Factory
// =============================================================================

// runtime bundles a registry with the metric sinks built for it.
type runtime struct {
	registry   *integrations.Registry
	prometheus *prometheus.Registry
	closers    []io.Closer
}

func (r *runtime) Close() error {
	errs := []error{r.registry.Close()}
	for _, cl := range r.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// newRuntime builds one client per configured upstream. Prometheus metrics
// are only collected when withPrometheus is set, since only the proxy
// serves them.
func (c *CLI) newRuntime(withPrometheus bool) (*runtime, error) {
	rt := &runtime{}
	var hooks []observability.Hooks

	if withPrometheus && c.cfg.Metrics.Prometheus {
		rt.prometheus = prometheus.NewRegistry()
		rt.prometheus.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		hooks = append(hooks, observability.NewPrometheus(rt.prometheus))
	}
	if addr := c.cfg.Metrics.StatsdAddr; addr != "" {
		sd, err := observability.NewStatsD(addr, c.cfg.Metrics.StatsdPrefix, nil, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("statsd: %w", err)
		}
		hooks = append(hooks, sd)
		rt.closers = append(rt.closers, sd)
	}

	cfgs := c.cfg.ClientConfigs()
	for name, cfg := range cfgs {
		if cfg.UserAgent == "" {
			cfg.UserAgent = buildinfo.UserAgent()
			cfgs[name] = cfg
		}
	}

	reg, err := integrations.NewRegistry(cfgs,
		integrations.WithLogger(c.Logger),
		integrations.WithRetryVerbosity(c.retryVerbosity()),
		integrations.WithHooks(observability.Multi(hooks...)),
		integrations.WithCoalescing(),
	)
	if err != nil {
		for _, cl := range rt.closers {
			_ = cl.Close()
		}
		return nil, err
	}
	rt.registry = reg
	return rt, nil
}

func (c *CLI) client(rt *runtime, name string) (*integrations.Client, error) {
	client, ok := rt.registry.Client(name)
	if !ok {
		return nil, perrors.New(perrors.ErrCodeInvalidInput, "unknown upstream %q (configured: %v)", name, rt.registry.Names())
	}
	return client, nil
}

// =============================================================================
// Error Rendering
// =============================================================================

// ErrorMessage renders err for the terminal: the message of a coded error
// followed by its cause, or the error text otherwise.
func ErrorMessage(err error) string {
	var e *perrors.Error
	if errors.As(err, &e) && e.Cause != nil {
		return perrors.UserMessage(err) + ": " + e.Cause.Error()
	}
	return perrors.UserMessage(err)
}

// PrintError writes err to w in the CLI's error style.
func PrintError(w io.Writer, err error) {
	if w == nil {
		w = os.Stderr
	}
	printError(w, "%s", ErrorMessage(err))
}
