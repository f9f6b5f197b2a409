package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/compflow/pkg/compflow"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
)

// namedInput is an input and the file it came from.
type namedInput struct {
	name  string
	input compflow.Input
}

func newRunCommand(a *app) *cobra.Command {
	var (
		parallel    int
		asJSON      bool
		quiet       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run INPUT.json [INPUT.json...]",
		Short: "Generate components for captured inputs",
		Long: `Run the generation pipeline for each input file. An input file holds
one JSON object with markup, styles, context and options. Use - to read
from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return printErr(a.stderr, "Cannot load configuration", err.Error(),
					"pass --config PATH", "or set COMPFLOW_CONFIG")
			}
			logger := a.logger(s)

			inputs, err := readInputs(cmd.InOrStdin(), args)
			if err != nil {
				return printErr(a.stderr, "Cannot read input", err.Error())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, reg, logger)
				defer srv.Close()
			}

			o, err := compflow.NewFromSettings(ctx, s,
				compflow.WithLogger(logger),
				compflow.WithMetrics(observability.Tee(
					observability.NewPrometheusMetrics(reg),
					observability.NewMetricsRecorder(nil),
				)),
				compflow.WithSpans(observability.NewSpanManager(nil)),
			)
			if err != nil {
				return printErr(a.stderr, "Cannot start pipeline", err.Error())
			}
			defer o.Close()

			reports := runAll(ctx, o, inputs, parallel, func(label string, md compflow.StateMetadata) {
				if !quiet && !asJSON {
					printTransition(a.stdout, label, md)
				}
			})

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for i, r := range reports {
					printReport(a.stdout, inputs[i].name, r)
				}
			}

			failed := 0
			for _, r := range reports {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return printErr(a.stderr, fmt.Sprintf("%d of %d flows failed", failed, len(reports)), "")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "maximum flows run at once")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

// runAll executes every input on o, at most parallel at a time, and
// returns the reports in input order. Progress callbacks are serialized.
func runAll(ctx context.Context, o *compflow.Orchestrator, inputs []namedInput, parallel int, progress func(string, compflow.StateMetadata)) []*compflow.Report {
	reports := make([]*compflow.Report, len(inputs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, in := range inputs {
		g.Go(func() error {
			report, err := o.Execute(ctx, in.input, func(md compflow.StateMetadata) {
				mu.Lock()
				defer mu.Unlock()
				progress(in.name, md)
			})
			if report == nil {
				fe, ok := cferrors.AsFlowError(err)
				if !ok {
					fe = cferrors.Default.Classify(err, "")
				}
				report = &compflow.Report{Err: fe}
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func readInputs(stdin io.Reader, args []string) ([]namedInput, error) {
	out := make([]namedInput, 0, len(args))
	for _, path := range args {
		var (
			data []byte
			err  error
			name = filepath.Base(path)
		)
		if path == "-" {
			data, err = io.ReadAll(stdin)
			name = "stdin"
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, err
		}

		var in compflow.Input
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, namedInput{name: name, input: in})
	}
	return out, nil
}

// serveMetrics exposes reg on addr until the returned server is closed.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}
