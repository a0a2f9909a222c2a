package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"musicy-stream/internal/platform/logger"
	"musicy-stream/internal/provider"
	"musicy-stream/internal/streaming"
)

var probeCmd = &cobra.Command{
	Use:   "probe <contentId>",
	Short: "Ask every configured provider for a content id and report each outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

type probeResult struct {
	name    string
	kind    provider.Kind
	elapsed time.Duration
	result  provider.Result
	err     error
}

func runProbe(cmd *cobra.Command, args []string) error {
	id, err := streaming.ParseContentID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewTo(os.Stderr, cfg.LogLevel, "text")

	eps, err := loadEndpoints(cfg, log)
	if err != nil {
		return err
	}
	upstream, err := streaming.NewUpstream(upstreamOptions(cfg))
	if err != nil {
		return err
	}
	adapters, err := provider.NewSet(eps, upstream.Client())
	if err != nil {
		return err
	}
	validator := streaming.Validator{AllowPrivate: cfg.AllowPrivate, MediaHosts: cfg.MediaHosts}

	results := make([]probeResult, len(adapters))
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = probeOne(ctx, a, string(id), validator)
			return nil
		})
	}
	_ = g.Wait()

	writeProbeReport(cmd.OutOrStdout(), results)
	if lo.NoneBy(results, func(r probeResult) bool { return r.err == nil }) {
		return errors.New("no provider resolved " + string(id))
	}
	return nil
}

func probeOne(ctx context.Context, a provider.Adapter, id string, v streaming.Validator) probeResult {
	ep := a.Endpoint()
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	start := time.Now()
	res, err := a.Resolve(ctx, id)
	if err == nil {
		err = v.Check(res.URL, ep)
	}
	return probeResult{name: ep.Name, kind: ep.Kind, elapsed: time.Since(start), result: res, err: err}
}

func writeProbeReport(w io.Writer, results []probeResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tKIND\tLATENCY\tRESULT")
	for _, r := range results {
		outcome := "ok " + r.result.MimeType
		if r.err != nil {
			outcome = "FAIL " + r.err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.name, r.kind, r.elapsed.Round(time.Millisecond), outcome)
	}
	_ = tw.Flush()
}
