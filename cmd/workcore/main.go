// Command workcore is a demo host application wiring a Work Service, a
// Work Contract Group, and a Work Graph together, the way a game or
// simulation embedding this library would. It is not part of the
// scheduler core itself: it is the thin external-collaborator layer
// around it (app lifecycle glue, a metrics endpoint, a profile
// snapshot store).
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	workcore "github.com/geenz/workcore"
	"github.com/geenz/workcore/contract"
	"github.com/geenz/workcore/graph"
	"github.com/geenz/workcore/internal/obs"
	"github.com/geenz/workcore/internal/profile"
	"github.com/geenz/workcore/service"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	logLevel    string
	logJSON     bool
	metricsAddr string
	threadCount int
	capacity    uint32
	nodeCount   int
	profilePath string
)

var rootCmd = &cobra.Command{
	Use:   "workcore",
	Short: "workcore is a demo host for the Work Contract Group / Service / Graph scheduler core",
	Long: `workcore wires a Work Service, one or more Work Contract Groups, and
Work Graphs together, exposing a Prometheus /metrics endpoint for the
scheduler's accounting counters and an optional profile snapshot
store for run-over-run comparison.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	runCmd.Flags().IntVar(&threadCount, "threads", 0, "worker thread count, 0 auto-detects")
	runCmd.Flags().Uint32Var(&capacity, "capacity", 256, "Work Contract Group capacity")
	runCmd.Flags().IntVar(&nodeCount, "nodes", 32, "number of demo graph nodes in the fan-out/fan-in chain")
	runCmd.Flags().StringVar(&profilePath, "profile-db", "", "bbolt file to append a run snapshot to, empty to disable")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	obs.Init(obs.Config{Level: obs.Level(logLevel), JSONOutput: logJSON})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the workcore ABI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		major, minor, patch, abi := workcore.Version()
		fmt.Printf("workcore %d.%d.%d (abi %d)\n", major, minor, patch, abi)
		return nil
	},
}

func maybeServeMetrics(addr string) {
	if addr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	obs.RegisterDefaults(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		obs.Logger.Info().Str("addr", addr).Msg("serving /metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			obs.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func newRunID() string {
	return uuid.NewString()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a demo fan-out/fan-in graph against a worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		maybeServeMetrics(metricsAddr)

		runID := newRunID()
		log := obs.WithComponent("run").With().Str("run_id", runID).Logger()

		var store *profile.Store
		if profilePath != "" {
			var err error
			store, err = profile.Open(profilePath)
			if err != nil {
				return fmt.Errorf("opening profile store: %w", err)
			}
			defer store.Close()
		}

		group := contract.NewGroup(capacity, contract.WithName("run-"+runID))
		defer group.Close()

		collector := obs.NewCollector(0)
		collector.Track(group)
		collector.Start()
		defer collector.Stop()

		svc := service.New(service.Config{ThreadCount: threadCount, NamePrefix: "workcore"})
		if res := svc.AddWorkContractGroup(group); res != service.Added {
			return fmt.Errorf("attaching group to service: unexpected result %v", res)
		}
		svc.Start()
		defer svc.Stop()

		wg := graph.New(group, graph.Config{ExpectedNodeCount: nodeCount + 2})
		defer wg.Close()

		started := time.Now()

		root := wg.AddNode(func(any) {
			log.Debug().Msg("root node running")
		}, "root", nil, graph.AnyThread)

		leaves := make([]graph.NodeHandle, 0, nodeCount)
		for i := 0; i < nodeCount; i++ {
			idx := i
			n := wg.AddNode(func(any) {
				log.Debug().Int("i", idx).Msg("leaf node running")
			}, fmt.Sprintf("leaf-%d", idx), nil, graph.AnyThread)
			wg.AddDependency(root, n)
			leaves = append(leaves, n)
		}

		wg.AddContinuation(leaves, func(any) {
			log.Info().Msg("fan-in join running")
		}, "join", graph.MainThread)

		wg.Execute()
		for !wg.IsComplete() {
			if group.ExecuteAllBackgroundWork() == 0 {
				group.ExecuteAllMainThreadWork()
			}
		}
		res := wg.Wait()

		elapsed := time.Since(started)
		log.Info().
			Bool("all_completed", res.AllCompleted).
			Int("failed", len(res.Failed)).
			Dur("elapsed", elapsed).
			Msg("run finished")

		if store != nil {
			snap := profile.Snapshot{
				RunID:        runID,
				StartedAt:    started,
				Duration:     elapsed,
				NodeCount:    nodeCount + 2,
				FailedCount:  len(res.Failed),
				AllCompleted: res.AllCompleted,
			}
			if err := store.Record(snap); err != nil {
				return fmt.Errorf("recording profile snapshot: %w", err)
			}
		}

		if !res.AllCompleted {
			return fmt.Errorf("%d node(s) failed", len(res.Failed))
		}
		return nil
	},
}
