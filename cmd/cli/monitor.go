package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/anstrom/tracerama/internal/api"
	apihandlers "github.com/anstrom/tracerama/internal/api/handlers"
	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/db"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/notify"
	"github.com/anstrom/tracerama/internal/report"
	"github.com/anstrom/tracerama/internal/scanning"
)

const monitorStopTimeout = 2 * time.Minute

var (
	monitorDuration time.Duration
	monitorSnapshot string
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <target> [targets...]",
	Short: "Trace targets repeatedly and track changes",
	Long: `Re-run the traceroute for every target on an interval until interrupted
(or until --duration elapses). Each run is appended to a bounded history;
reachability changes, route changes and sustained failures are reported as
they happen. On stop a summary is printed and the history reports are
written when --csv, --html or --snapshot is given.

With --api the monitors are also served over HTTP (status, history,
Prometheus metrics and a websocket event stream).`,
	Example: `  tracerama monitor example.com --interval 30s
  tracerama monitor 10.0.0.1 10.0.0.2 --port 443 --max-history 500 --csv
  tracerama monitor example.com --api --api-port 9090 --redis`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: bindMonitorFlags,
	RunE:    runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	addScannerFlags(monitorCmd)
	addOutputFlags(monitorCmd)

	flags := monitorCmd.Flags()
	flags.DurationP("interval", "i", monitor.DefaultInterval, "time between traceroutes")
	flags.Int("max-history", monitor.DefaultMaxHistory, "number of results kept per target")
	flags.Int("failure-threshold", monitor.DefaultFailureThreshold, "consecutive failures that raise an alert")
	flags.Bool("wait-on-stop", true, "let running traceroutes finish on stop")
	flags.DurationVar(&monitorDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flags.StringVar(&monitorSnapshot, "snapshot", "", "write the final snapshot as json or yaml")
	flags.Bool("api", false, "serve the status API")
	flags.String("api-addr", "127.0.0.1", "status API listen address")
	flags.Int("api-port", 8080, "status API port")
	flags.Bool("redis", false, "publish monitor events to redis")
	flags.String("redis-addr", "localhost:6379", "redis server address")
	flags.String("redis-channel", "tracerama:events", "redis channel for events")
}

func bindMonitorFlags(cmd *cobra.Command, args []string) error {
	if err := bindScanFlags(cmd, args); err != nil {
		return err
	}
	return bindFlags(cmd.Flags(), map[string]string{
		"interval":          "monitor.interval",
		"max-history":       "monitor.max_history",
		"failure-threshold": "monitor.failure_threshold",
		"wait-on-stop":      "monitor.wait_on_stop",
		"api":               "api.enabled",
		"api-addr":          "api.listen_addr",
		"api-port":          "api.port",
		"redis":             "redis.enabled",
		"redis-addr":        "redis.addr",
		"redis-channel":     "redis.channel",
	})
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var snapshotFormat report.Format
	if monitorSnapshot != "" {
		if snapshotFormat, err = report.ParseFormat(monitorSnapshot); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	logger := logging.Default().WithComponent("monitor")
	out := cmd.OutOrStdout()

	scanner := newScanner(cfg)
	defer func() { _ = scanner.Close() }()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(database)
	store := newResultStore(database)

	factories := []monitor.HookFactory{newConsoleHooks(out).hooks}
	if store != nil {
		factories = append(factories, storeHooks(store))
	}

	checks := map[string]apihandlers.Pinger{}
	if database != nil {
		checks["database"] = apihandlers.PingFunc(database.PingContext)
	}

	if cfg.Redis.Enabled {
		publisher := notify.NewRedisPublisher(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Channel,
			notify.WithLogger(logger),
			notify.WithScanComplete(cfg.Redis.PublishScans))
		defer func() { _ = publisher.Close() }()

		if err := publisher.Ping(ctx); err != nil {
			return err
		}
		factories = append(factories, publisher.Hooks)
		checks["redis"] = publisher
	}

	var hub *apihandlers.WebSocketHub
	if cfg.API.Enabled {
		hub = apihandlers.NewWebSocketHub(cfg.API.AllowedOrigins, logger)
		factories = append(factories, hub.Hooks)
	}

	manager := monitor.NewManager(scanner, cfg.MonitorSettings(),
		monitor.WithHookFactory(monitor.ChainFactories(factories...)),
		monitor.WithManagerLogger(logger))

	for _, target := range args {
		if _, err := manager.Add(cfg.Request(target)); err != nil {
			_ = manager.StopAll(context.Background(), false)
			return err
		}
	}
	fmt.Fprintf(out, "Monitoring %d target(s) every %s. Press Ctrl+C to stop.\n",
		manager.Len(), cfg.Monitor.Interval)

	var apiErr chan error
	if cfg.API.Enabled {
		server, err := api.New(cfg, api.Dependencies{
			Monitors: manager,
			Template: cfg.Request,
			Results:  resultReader(store),
			Checks:   checks,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			_ = manager.StopAll(context.Background(), false)
			return err
		}
		apiErr = make(chan error, 1)
		go func() { apiErr <- server.Start(ctx) }()
		fmt.Fprintf(out, "Status API listening on http://%s/api/v1/monitors\n", server.Address())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
	defer cancel()
	if err := manager.StopAll(stopCtx, cfg.Monitor.WaitOnStop); err != nil {
		logger.Warn("Monitors did not stop cleanly", "error", err)
	}
	if apiErr != nil && runErr == nil {
		if err := <-apiErr; err != nil {
			logger.Warn("API server did not stop cleanly", "error", err)
		}
	}

	if err := writeMonitorReports(out, cfg, manager.Snapshots(), snapshotFormat); err != nil {
		return err
	}
	return runErr
}

// resultReader keeps a disabled store a nil interface.
func resultReader(store *db.ResultStore) apihandlers.ResultReader {
	if store == nil {
		return nil
	}
	return store
}

// writeMonitorReports prints the final summary of every monitor and writes
// the requested history files.
func writeMonitorReports(w io.Writer, cfg *config.Config, snaps []monitor.Snapshot, format report.Format) error {
	var files *report.FileWriter
	if cfg.Output.CSV || cfg.Output.HTML || format != "" {
		files = report.NewFileWriter(cfg.Output.Dir)
	}

	for _, snap := range snaps {
		fmt.Fprintln(w)
		if err := report.WriteMonitor(w, snap); err != nil {
			return err
		}
		if files == nil {
			continue
		}

		paths, err := files.MonitorHistory(snap, cfg.Output.CSV, cfg.Output.HTML)
		if err != nil {
			return err
		}
		if format != "" {
			path, err := files.Snapshot(snap, format)
			if err != nil {
				return err
			}
			paths = append(paths, path)
		}
		for _, p := range paths {
			fmt.Fprintf(w, "Report written: %s\n", p)
		}
	}
	return nil
}

// storeHooks persists every completed scan.
func storeHooks(store *db.ResultStore) monitor.HookFactory {
	return func(scanning.Key) monitor.Hooks {
		return monitor.Hooks{
			OnScanComplete: func(r *scanning.ScanResult) error {
				ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
				defer cancel()
				return store.Save(ctx, r)
			},
		}
	}
}

// consoleHooks prints one line per monitor event. Monitors run on their
// own goroutines, so writes are serialized.
type consoleHooks struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newConsoleHooks(out io.Writer) *consoleHooks {
	return &consoleHooks{out: out, now: time.Now}
}

func (c *consoleHooks) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s "+format+"\n", append([]interface{}{c.now().Format(time.TimeOnly)}, args...)...)
}

func (c *consoleHooks) hooks(key scanning.Key) monitor.Hooks {
	return monitor.Hooks{
		OnScanComplete: func(r *scanning.ScanResult) error {
			if r.Failure != "" {
				c.printf("%s failed (%s): %s", key, r.Failure, r.Exit.Diagnostic)
				return nil
			}
			s := scanning.ComputeStatistics(r)
			status := "not reached"
			if s.TargetReached {
				status = "reached"
			}
			c.printf("%s %s in %d hops, avg rtt %s ms", key, status, s.TotalHops, s.AverageRTT)
			return nil
		},
		OnReachabilityChanged: func(reached bool) error {
			if reached {
				c.printf("%s is reachable again", key)
			} else {
				c.printf("%s became unreachable", key)
			}
			return nil
		},
		OnSustainedFailure: func(consecutive int) error {
			c.printf("%s failed %d times in a row", key, consecutive)
			return nil
		},
	}
}
