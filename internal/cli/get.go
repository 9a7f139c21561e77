package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/integrations"
)

type getOptions struct {
	noCache bool
	ttl     time.Duration
	timeout time.Duration
	repeat  int
	stats   bool
	raw     bool
}

// getCommand creates the get command.
func (c *CLI) getCommand() *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <upstream> <endpoint> [key=value ...]",
		Short: "Fetch an endpoint and print the JSON response",
		Long: `Fetch an endpoint from a configured upstream and print the response body.

Query parameters are given as key=value pairs. Responses are cached per the
upstream's TTL settings; --repeat shows the effect of the cache and limiter.`,
		Example: `  pricecheck get ninja /currencyoverview league=Standard type=Currency
  pricecheck get ninja /currencyoverview league=Standard --repeat 3 --stats`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			return c.runGet(cmd, args[0], args[1], params, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "cache TTL for this response (overrides config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-attempt timeout (overrides config)")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "issue the request N times")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print cache and limiter stats afterwards")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the body without indentation")

	return cmd
}

func (c *CLI) runGet(cmd *cobra.Command, upstream, endpoint string, params url.Values, opts getOptions) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	rt, err := c.newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	client, err := c.client(rt, upstream)
	if err != nil {
		return err
	}

	var reqOpts []integrations.RequestOption
	if opts.noCache {
		reqOpts = append(reqOpts, integrations.WithoutCache())
	}
	if opts.ttl > 0 {
		reqOpts = append(reqOpts, integrations.WithTTL(opts.ttl))
	}
	if opts.timeout > 0 {
		reqOpts = append(reqOpts, integrations.WithTimeout(opts.timeout))
	}

	repeat := max(opts.repeat, 1)
	var body []byte
	for i := range repeat {
		prog := newProgress(logger)
		body, err = client.GetBytes(ctx, endpoint, params, reqOpts...)
		if err != nil {
			return err
		}
		prog.done(fmt.Sprintf("Fetched %s (%d/%d)", endpoint, i+1, repeat))
	}

	out := cmd.OutOrStdout()
	if err := writeBody(out, body, opts.raw); err != nil {
		return err
	}
	if opts.stats {
		printClientStats(cmd.ErrOrStderr(), client)
	}
	return nil
}

// parseParams turns key=value arguments into query parameters. Repeated
// keys accumulate.
func parseParams(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, perrors.New(perrors.ErrCodeInvalidInput, "parameter %q must be key=value", arg)
		}
		params.Add(key, value)
	}
	return params, nil
}

// writeBody prints body, indenting it when it is JSON.
func writeBody(w io.Writer, body []byte, raw bool) error {
	if !raw && json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

func printClientStats(w io.Writer, client *integrations.Client) {
	cs := client.CacheStats()
	ls := client.LimiterStats()
	printSection(w, client.Name(), [][2]string{
		{"cache size", fmt.Sprintf("%d/%d", cs.Size, cs.Capacity)},
		{"hits", StyleNumber.Render(fmt.Sprint(cs.Hits))},
		{"misses", StyleNumber.Render(fmt.Sprint(cs.Misses))},
		{"hit rate", fmt.Sprintf("%.0f%%", cs.HitRate()*100)},
		{"evictions", fmt.Sprint(cs.Evictions)},
		{"limiter waits", fmt.Sprint(ls.Waits)},
		{"waited", ls.WaitTime.Round(time.Millisecond).String()},
	})
}

// readData resolves --data: a literal JSON document, "@path" for a file,
// or "@-" for stdin.
func readData(data string, stdin io.Reader) ([]byte, error) {
	var body []byte
	switch {
	case data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		body = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", data[1:], err)
		}
		body = b
	default:
		body = []byte(data)
	}
	if !json.Valid(body) {
		return nil, perrors.New(perrors.ErrCodeInvalidInput, "request body is not valid JSON")
	}
	return body, nil
}
