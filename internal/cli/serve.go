package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/pricecheck/internal/server"
)

// serveCommand runs the local caching proxy until the context is canceled.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local caching proxy",
		Long: `Serve every configured upstream under /v1/{upstream}/... so other tools
share one cache and one rate limiter per upstream.

Endpoints:
  GET    /healthz               liveness
  GET    /metrics               Prometheus metrics (if enabled)
  GET    /stats                 cache and limiter stats per upstream
  GET    /v1/{upstream}/*       cached read (?nocache=1 bypasses the cache)
  POST   /v1/{upstream}/*       write, never cached
  DELETE /v1/{upstream}/cache   clear the upstream's cache`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Server.Addr
			}

			rt, err := c.newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []server.Option{
				server.WithLogger(c.Logger),
				server.WithRateLimit(c.cfg.Server.RequestsPerSecond, c.cfg.Server.Burst),
			}
			if rt.prometheus != nil {
				opts = append(opts, server.WithMetrics(rt.prometheus))
			}

			printInfo(cmd.ErrOrStderr(), "Serving %d upstreams on %s", len(rt.registry.Names()), StyleLink.Render("http://"+addr))
			return server.New(rt.registry, opts...).ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	return cmd
}
