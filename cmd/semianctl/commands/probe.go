package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/semian/config"
	"github.com/jonwraymond/semian/httpguard"
	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
)

type probeOptions struct {
	count    int
	interval time.Duration
	timeout  time.Duration
	fallback bool
}

func newProbeCommand(g *globals) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Send guarded GET requests to a URL",
		Long: `Probe sends GET requests through the same bulkhead and circuit breaker
every other process on this host uses for the URL's host and port.

Options come from the configuration entry named after the endpoint
(for example http_api_example_com_443) or the default key. With
--fallback an endpoint that has no entry and no default key uses the
built-in defaults. Entries marked disabled stay unprotected.`,
		Example: `  semianctl probe https://api.example.com/health --count 10 --interval 500ms`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, g, args[0], opts)
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of requests")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "delay between requests")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	cmd.Flags().BoolVar(&opts.fallback, "fallback", false, "protect unconfigured endpoints with default options")
	return cmd
}

func runProbe(cmd *cobra.Command, g *globals, rawURL string, opts probeOptions) error {
	ctx := cmd.Context()
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return fmt.Errorf("invalid url %q", rawURL)
	}

	obs, err := observe.NewObserver(ctx, g.probeObserveConfig(ctx))
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.WithoutCancel(ctx))
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return err
	}

	s, err := g.openSession(ctx, mw.OnStateChange)
	if err != nil {
		return err
	}
	defer s.Close()

	resolver, err := s.cfg.Resolver()
	if err != nil {
		return err
	}
	if opts.fallback {
		resolver = withFallback(resolver, s.cfg, resilience.DefaultOptions())
	}

	adapter, err := httpguard.New(httpguard.Config{
		Guard:             resilience.NewGuard(s.registry, resolver, resilience.WithHooks(mw.Hooks())),
		TrackServerErrors: true,
	})
	if err != nil {
		return err
	}
	client := adapter.ProtectResty(resty.New().SetTimeout(opts.timeout))

	id := httpguard.URLIdentifier(target)
	out := cmd.OutOrStdout()
	if adapter.Guard().Options(ctx, id) == nil {
		fmt.Fprintf(out, "%s is not protected\n", id)
	}

	var failures int
	for i := 1; i <= opts.count; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}

		start := time.Now()
		resp, err := client.R().SetContext(ctx).Get(rawURL)
		elapsed := time.Since(start).Round(time.Millisecond)
		switch {
		case resilience.IsRejection(err):
			failures++
			fmt.Fprintf(out, "%d\trejected\t%s\t%v\n", i, elapsed, rejectionReason(err))
		case err != nil:
			failures++
			fmt.Fprintf(out, "%d\terror\t%s\t%v\n", i, elapsed, err)
		default:
			if resp.StatusCode() >= 500 {
				failures++
			}
			fmt.Fprintf(out, "%d\t%d\t%s\n", i, resp.StatusCode(), elapsed)
		}
	}

	if st, err := s.registry.Status(id); err == nil {
		fmt.Fprintf(out, "%s\t%s\t%d/%d tickets free\n", st.Identifier, st.State, st.Available, st.Tickets)
	}
	if failures == opts.count {
		return fmt.Errorf("all %d requests failed", failures)
	}
	return nil
}

// probeObserveConfig keeps logging from the configuration but never
// exports telemetry from a short-lived command.
func (g *globals) probeObserveConfig(ctx context.Context) observe.Config {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return observe.Config{ServiceName: "semianctl"}
	}
	obsCfg := cfg.ObserveConfig(g.version)
	obsCfg.Tracing.Enabled = false
	obsCfg.Metrics.Enabled = false
	return obsCfg
}

// withFallback protects identifiers that have neither their own entry nor
// a default key entry with defaults. Entries marked disabled stay disabled.
func withFallback(r resilience.Resolver, cfg *config.Config, defaults resilience.Options) resilience.Resolver {
	entries, err := cfg.Resources()
	if err != nil {
		return r
	}
	return resilience.ResolverFunc(func(id string) *resilience.Options {
		if o := r.Resolve(id); o != nil {
			return o
		}
		if _, ok := entries[id]; ok {
			return nil
		}
		if _, ok := entries[cfg.DefaultKey]; ok && cfg.DefaultKey != "" {
			return nil
		}
		o := defaults
		return &o
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit open"
	case errors.Is(err, resilience.ErrResourceBusy):
		return "busy"
	default:
		return err.Error()
	}
}
