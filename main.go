// main.go
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// BootTime anchors monotonic kernel timestamps to wall clock.
var BootTime time.Time

// ProbeConfig selects which probe targets get attached.
type ProbeConfig struct {
	// ShellPath is the binary whose readline return is probed.
	ShellPath string
	// SSLLib is the shared object whose SSL_read/SSL_write are probed.
	// Empty disables SSL capture.
	SSLLib string
}

func main() {
	var config struct {
		mode          string
		commands      []string
		minDurationMs int64
		targetPid     uint32
		format        string
		logLevel      string
		showTimestamp bool
		metricsAddr   string
		shellPath     string
		sslLib        string
		sslComm       string
		dedupWindow   time.Duration
		cacheSize     int64
	}

	rootCmd := &cobra.Command{
		Use:   "proctrace",
		Short: "Selective process, shell, file and SSL activity tracer",
		Long: `proctrace follows process lifecycles through kernel probes and traces
shell input, file opens and SSL library traffic for the processes an
eligibility policy selects: named commands, a target pid, and every
descendant either of them spawns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			BootTime = calculateBootTime()

			logger := NewLogger(os.Stderr, ParseLogLevel(config.logLevel), config.showTimestamp)

			mode, err := ParseTraceMode(config.mode)
			if err != nil {
				return err
			}
			if config.minDurationMs < 0 {
				return fmt.Errorf("min duration must not be negative: %d", config.minDurationMs)
			}
			minDuration := time.Duration(config.minDurationMs) * time.Millisecond

			var formatter EventFormatter
			switch config.format {
			case "json":
				formatter = NewJSONFormatter(os.Stdout, generateSessionUID())
			case "text", "":
				formatter = NewTextFormatter(os.Stdout)
			default:
				return fmt.Errorf("unknown output format: %q (supported: text, json)", config.format)
			}
			if err := formatter.Initialize(); err != nil {
				return fmt.Errorf("initializing formatter: %w", err)
			}
			defer formatter.Close()

			if config.metricsAddr != "" {
				serveMetrics(config.metricsAddr, logger)
				logger.Info("metrics", "serving metrics on %s", config.metricsAddr)
			}

			tracked := NewPidTable()
			starts := NewStartTable()
			filters := NewCommandFilterSet(config.commands)
			if len(config.commands) > MaxCommandFilters {
				logger.Warning("filter", "only the first %d of %d command filters are active",
					MaxCommandFilters, len(config.commands))
			}
			engine := NewEligibilityEngine(mode, tracked, filters, config.targetPid)

			cache, err := NewProcessCache(config.cacheSize)
			if err != nil {
				return fmt.Errorf("creating process cache: %w", err)
			}

			// Snapshot before attaching so already-running matches are
			// eligible from the first event.
			snapshot := NewSnapshotBuilder("/proc", engine, cache, logger)
			initialPids, err := snapshot.Build()
			if err != nil {
				return fmt.Errorf("scanning existing processes: %w", err)
			}

			if err := formatter.FormatConfig(&ConfigRecord{
				Mode:               mode.String(),
				MinDurationMs:      config.minDurationMs,
				Commands:           filters.Enabled(),
				TargetPid:          config.targetPid,
				DedupWindowSec:     int64(config.dedupWindow.Seconds()),
				InitialTrackedPids: initialPids,
			}); err != nil {
				return fmt.Errorf("writing config record: %w", err)
			}

			ring := NewRingBuffer(DefaultRingSize)
			emitter := NewEmitter(ring, engine, starts, minDuration)

			agg := NewFileOpenAggregator(config.dedupWindow, func(entry AggregationEntry, reason FlushReason) {
				if err := formatter.FormatFileSummary(entry, reason, time.Now()); err != nil {
					logger.Error("dedup", "writing file summary: %v", err)
				}
			})

			cleanup, err := attachProbes(ProbeConfig{
				ShellPath: config.shellPath,
				SSLLib:    config.sslLib,
			}, emitter, logger)
			if err != nil {
				return fmt.Errorf("attaching probes: %w", err)
			}
			defer cleanup()

			collector := NewMetricsCollector(cache, tracked)
			collector.Start()
			defer collector.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := NewConsumer(ring, tracked, mode, agg, formatter, cache, logger, config.sslComm)

			errChan := make(chan error, 1)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil {
					errChan <- err
				}
			}()

			logger.Info("main", "tracing started (mode=%s, filters=%v)", mode, filters.Enabled())

			select {
			case <-ctx.Done():
				logger.Info("main", "received shutdown signal")
			case err := <-errChan:
				logger.Error("main", "consumer failed: %v", err)
			}

			// Detach first so nothing new reaches the ring, then close
			// the ring so the consumer drains and exits.
			cleanup()
			ring.Close()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				logger.Info("main", "consumer drained")
			case <-time.After(5 * time.Second):
				logger.Warning("main", "timed out waiting for consumer to drain")
			}

			return nil
		},
	}

	// Eligibility policy
	rootCmd.Flags().StringVar(&config.mode, "mode", "filter", "Trace mode: all, proc, or filter")
	rootCmd.Flags().StringSliceVar(&config.commands, "comm", nil, "Command name prefixes to trace (max 10)")
	rootCmd.Flags().Uint32Var(&config.targetPid, "pid", 0, "Trace this pid and its descendants instead of command filters")
	rootCmd.Flags().Int64Var(&config.minDurationMs, "min-duration-ms", 0, "Only report processes that lived at least this long")

	// Probe targets
	rootCmd.Flags().StringVar(&config.shellPath, "shell", "/bin/bash", "Shell binary to probe for interactive input")
	rootCmd.Flags().StringVar(&config.sslLib, "ssl-lib", "", "SSL shared library to probe (empty disables SSL capture)")
	rootCmd.Flags().StringVar(&config.sslComm, "ssl-comm", "", "Only report SSL traffic from commands with this prefix")

	// Output and dedup
	rootCmd.Flags().StringVar(&config.format, "format", "text", "Output format: text or json")
	rootCmd.Flags().DurationVar(&config.dedupWindow, "dedup-window", DefaultDedupWindow, "Aggregation window for repeated file opens")

	// Operations
	rootCmd.Flags().StringVar(&config.logLevel, "log-level", "info", "Console log level: error, warning, info, debug, trace")
	rootCmd.Flags().BoolVar(&config.showTimestamp, "log-timestamp", false, "Prefix console log lines with timestamps")
	rootCmd.Flags().StringVar(&config.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	rootCmd.Flags().Int64Var(&config.cacheSize, "cache-size", 10000, "Process metadata cache capacity")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func calculateBootTime() time.Time {
	if runtime.GOOS == "linux" {
		content, err := os.ReadFile("/proc/uptime")
		if err == nil {
			parts := strings.Split(string(content), " ")
			if len(parts) > 0 {
				uptime, err := strconv.ParseFloat(parts[0], 64)
				if err == nil {
					return time.Now().Add(-time.Duration(uptime * float64(time.Second)))
				}
			}
		}
	}
	// Fallback: use tracer start as the reference point.
	return time.Now()
}

// BpfTimestampToTime converts monotonic kernel nanoseconds to wall clock.
func BpfTimestampToTime(bpfTimestamp uint64) time.Time {
	return BootTime.Add(time.Duration(bpfTimestamp))
}

func generateSessionUID() string {
	h := fnv.New32a()
	hostname, _ := os.Hostname()
	fmt.Fprintf(h, "%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
	return fmt.Sprintf("%08x", h.Sum32())
}
