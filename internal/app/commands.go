package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/metrics"
	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
	appsync "github.com/nhle/azdo-connector/internal/sync"
)

func (a *App) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and connectivity for the selected connectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEach(cmd.Context(), func(ctx context.Context, cc model.ConnectorConfig) error {
				conn, err := a.connectorFor(cc)
				if err != nil {
					a.printf("%s  %s\n", renderFailure(cc.ID), err)
					return err
				}
				name, err := conn.ValidateConnection(ctx)
				if err != nil {
					if source.IsAuthError(err) {
						err = fmt.Errorf("%w (the PAT was rejected or has expired)", err)
					}
					a.printf("%s  %s\n", renderFailure(cc.ID), err)
					return err
				}
				a.printf("%s  connected to project %q\n", renderSuccess(cc.ID), name)
				return nil
			})
		},
	}
}

func (a *App) loadCommand() *cobra.Command {
	var jsonlPath string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Index every work item of the selected connectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			extra, closeSink, err := a.jsonlSink(jsonlPath)
			if err != nil {
				return err
			}
			defer closeInto(&err, closeSink)

			return a.runEach(cmd.Context(), func(ctx context.Context, cc model.ConnectorConfig) error {
				sy, err := a.syncerFor(cc, extra...)
				if err != nil {
					return err
				}
				run, err := sy.RunLoad(ctx)
				a.printRun(run, err)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "Also write documents as JSON lines to this file ('-' for stdout)")
	return cmd
}

func (a *App) pollCommand() *cobra.Command {
	var (
		start     float64
		end       float64
		jsonlPath string
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Index work items changed inside a time window",
		Long: `Index work items whose changed date lies between --start and --end,
both given as (possibly fractional) seconds since the Unix epoch.
--end defaults to now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			startTime := epochToTime(start)
			endTime := a.now()
			if cmd.Flags().Changed("end") {
				endTime = epochToTime(end)
			}

			extra, closeSink, err := a.jsonlSink(jsonlPath)
			if err != nil {
				return err
			}
			defer closeInto(&err, closeSink)

			return a.runEach(cmd.Context(), func(ctx context.Context, cc model.ConnectorConfig) error {
				sy, err := a.syncerFor(cc, extra...)
				if err != nil {
					return err
				}
				run, err := sy.RunPoll(ctx, startTime, endTime)
				a.printRun(run, err)
				return err
			})
		},
	}

	cmd.Flags().Float64Var(&start, "start", 0, "Window start in seconds since the Unix epoch (required)")
	cmd.Flags().Float64Var(&end, "end", 0, "Window end in seconds since the Unix epoch")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "Also write documents as JSON lines to this file ('-' for stdout)")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func (a *App) syncCommand() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Poll from the last checkpoint, or load fully on first run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return a.runWatch(cmd.Context(), metricsAddr)
			}
			return a.runEach(cmd.Context(), func(ctx context.Context, cc model.ConnectorConfig) error {
				sy, err := a.syncerFor(cc)
				if err != nil {
					return err
				}
				run, err := sy.RunIncremental(ctx)
				a.printRun(run, err)
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and poll each connector on its interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching (e.g. :9090)")
	return cmd
}

// runWatch polls every selected connector in the background until
// interrupted.
func (a *App) runWatch(ctx context.Context, metricsAddr string) error {
	ccs, err := a.selectedConnectors()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		a.metrics = metrics.New()
		shutdown, err := a.serveMetrics(metricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	p := appsync.NewPoller(a.logger)
	for _, cc := range ccs {
		sy, err := a.syncerFor(cc)
		if err != nil {
			return err
		}
		p.Register(sy, pollInterval(cc))
	}

	p.Start(ctx)
	defer p.Stop()
	a.printf("%s\n", renderHint(fmt.Sprintf("watching %d connector(s), press Ctrl+C to stop", len(ccs))))

	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-p.Results():
			a.printRun(res.Run, res.Error)
			if res.AuthFailed {
				a.printf("%s\n", renderHint(fmt.Sprintf(
					"%s: authentication failed, run 'azdo-connector configure -c %s'",
					res.ConnectorID, res.ConnectorID,
				)))
			}
		}
	}
}

func (a *App) statusCommand() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoints, document counts and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ccs := a.cfg.Connectors
			if a.connectorID != "" {
				cc, err := a.cfg.Connector(a.connectorID)
				if err != nil {
					return err
				}
				ccs = []model.ConnectorConfig{cc}
			}
			if len(ccs) == 0 {
				a.printf("%s\n", renderHint("no connectors configured; run 'azdo-connector configure'"))
				return nil
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			for _, cc := range ccs {
				st, err := loadConnectorStatus(cmd.Context(), s, cc, runs)
				if err != nil {
					return err
				}
				a.printf("%s\n", renderStatus(st))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 5, "Number of recent runs to show")
	return cmd
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a.printf("azdo-connector %s\n", Version)
			a.printf("Go version: %s\n", runtime.Version())
			a.printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// serveMetrics starts the metrics endpoint. The returned function shuts
// it down.
func (a *App) serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// jsonlSink opens the optional JSON lines sink. Paths ending in .gz are
// gzip-compressed. The returned function flushes and closes the file.
// Writing to stdout moves run summaries to errOut.
func (a *App) jsonlSink(path string) ([]appsync.Sink, func() error, error) {
	noop := func() error { return nil }

	switch path {
	case "":
		return nil, noop, nil
	case "-":
		a.jsonlOnStdout = true
		return []appsync.Sink{appsync.NewJSONLSink(a.out)}, noop, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		return []appsync.Sink{appsync.NewJSONLSink(gz)}, func() error {
			return errors.Join(gz.Close(), f.Close())
		}, nil
	}
	return []appsync.Sink{appsync.NewJSONLSink(f)}, f.Close, nil
}

// closeInto calls closeFn and reports its error through errp unless errp
// already holds one.
func closeInto(errp *error, closeFn func() error) {
	if err := closeFn(); err != nil && *errp == nil {
		*errp = fmt.Errorf("closing JSON lines output: %w", err)
	}
}

func (a *App) printRun(run model.SyncRun, err error) {
	if run.ID == "" && err != nil {
		a.printf("%s  %s\n", renderFailure(a.connectorLabel()), err)
		return
	}
	a.printf("%s\n", renderRun(run))
}

func (a *App) connectorLabel() string {
	if a.connectorID != "" {
		return a.connectorID
	}
	return "sync"
}

func epochToTime(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}
