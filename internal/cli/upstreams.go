package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pricecheck/pkg/integrations"
)

// upstreamsCommand lists the configured upstreams.
func (c *CLI) upstreamsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upstreams",
		Short: "List configured upstreams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			names := c.cfg.UpstreamNames()
			if len(names) == 0 {
				printWarning(out, "No upstreams configured")
				return nil
			}
			for _, name := range names {
				cfg := c.cfg.Upstreams[name].ClientConfig(name)
				fmt.Fprintln(out, StyleTitle.Render(name)+" "+StyleLink.Render(cfg.BaseURL))
				printInline(out, describeRate(cfg.RequestsPerSecond), "ttl "+describeTTL(cfg.DefaultTTL), fmt.Sprintf("%d endpoint overrides", len(cfg.EndpointTTL)))
			}
			return nil
		},
	}
}

func describeRate(rps float64) string {
	switch {
	case rps < 0:
		return "unlimited"
	case rps == 0:
		rps = integrations.DefaultRequestsPerSecond
	}
	return fmt.Sprintf("%g req/s", rps)
}

func describeTTL(ttl time.Duration) string {
	if ttl <= 0 {
		ttl = integrations.DefaultTTL
	}
	return ttl.String()
}
