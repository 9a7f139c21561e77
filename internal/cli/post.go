package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pricecheck/pkg/integrations"
)

// postCommand creates the post command.
func (c *CLI) postCommand() *cobra.Command {
	var (
		data    string
		raw     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "post <upstream> <endpoint>",
		Short: "Send a JSON body to an endpoint",
		Long: `Send a JSON body to an upstream endpoint and print the response.

POST requests are rate-limited and retried like reads but never cached.`,
		Example: `  pricecheck post trade /search/Standard --data '{"query":{"status":{"option":"online"}}}'
  pricecheck post trade /search/Standard --data @query.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt, err := c.newRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := c.client(rt, args[0])
			if err != nil {
				return err
			}

			var opts []integrations.RequestOption
			if timeout > 0 {
				opts = append(opts, integrations.WithTimeout(timeout))
			}
			prog := newProgress(loggerFromContext(cmd.Context()))
			resp, err := client.PostBytes(cmd.Context(), args[1], body, opts...)
			if err != nil {
				return err
			}
			prog.done("Posted " + args[1])
			return writeBody(cmd.OutOrStdout(), resp, raw)
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON body, @file, or @- for stdin")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the body without indentation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt timeout (overrides config)")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}
