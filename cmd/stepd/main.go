// Command stepd is the per-step IPC daemon (spec.md §1): one process
// per running job step, bound to one Unix-domain socket, answering the
// opcodes defined in pkg/wire for the lifetime of the step.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/config"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/extern"
	"github.com/cuemby/stepd/pkg/identity"
	"github.com/cuemby/stepd/pkg/lifecycle"
	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/metrics"
	"github.com/cuemby/stepd/pkg/server"
	"github.com/cuemby/stepd/pkg/socketloc"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagDebugAddr  string
	flagLogLevel   string
	flagLogJSON    bool

	flagJobID     uint32
	flagStepID    uint32
	flagHet       uint32
	flagHasHet    bool
	flagOwnerUID  uint32
	flagNodeID    uint32
	flagJobMem    uint64
	flagStepMem   uint64
	flagRank      int32
	flagDescCount int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stepd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stepd",
	Short: "Per-step IPC daemon for a cluster job scheduler",
	RunE:  runStepd,
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().StringVar(&flagConfigPath, "config", "/etc/stepd/stepd.yaml", "path to stepd's YAML configuration")
	rootCmd.Flags().StringVar(&flagDebugAddr, "debug-addr", "127.0.0.1:0", "address for the metrics/health HTTP listener")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", true, "emit structured JSON logs")

	rootCmd.Flags().Uint32Var(&flagJobID, "job-id", 0, "job id this step belongs to")
	rootCmd.Flags().Uint32Var(&flagStepID, "step-id", 0, "step id (use the sentinel values for batch/extern pseudo-steps)")
	rootCmd.Flags().Uint32Var(&flagHet, "het-component", 0, "heterogeneous job component index")
	rootCmd.Flags().BoolVar(&flagHasHet, "het", false, "this step is part of a heterogeneous job")
	rootCmd.Flags().Uint32Var(&flagOwnerUID, "owner-uid", 0, "uid of the step's owning user")
	rootCmd.Flags().Uint32Var(&flagNodeID, "node-id", 0, "this node's id within the job")
	rootCmd.Flags().Uint64Var(&flagJobMem, "job-mem", 0, "job memory limit in bytes")
	rootCmd.Flags().Uint64Var(&flagStepMem, "step-mem", 0, "step memory limit in bytes")
	rootCmd.Flags().Int32Var(&flagRank, "rank", 0, "this node's rank in the step's completion reduction tree")
	rootCmd.Flags().IntVar(&flagDescCount, "descendants", 0, "number of descendant ranks in this node's completion subtree")

	rootCmd.MarkFlagRequired("job-id")
}

func initLogging() {
	log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagLogJSON})
}

func runStepd(cmd *cobra.Command, args []string) error {
	instanceID := uuid.NewString()
	logger := log.WithComponent("stepd")
	logger.Info().Str("instance", instanceID).Msg("starting")

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id := stepid.ID{JobID: flagJobID, StepID: flagStepID, HetComponent: flagHet, HasHet: flagHasHet}

	core, ln, err := buildCore(cfg, id)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}

	metrics.RegisterComponent("container", true, "ready")
	metrics.RegisterComponent("socket", true, ln.Path())

	debugSrv := startDebugServer(flagDebugAddr)

	go func() {
		if err := ln.Serve(); err != nil {
			logger.Error().Err(err).Msg("accept loop exited")
		}
	}()

	logger.Info().Str("step", id.String()).Str("socket", ln.Path()).Msg("serving")

	return waitForShutdown(ln, debugSrv)
}

// buildCore wires every per-step collaborator together from cfg and
// binds the socket, the way a launcher would before execing stepd.
func buildCore(cfg *config.Config, id stepid.ID) (*server.Core, *server.Listener, error) {
	path, err := socketloc.Build(cfg.SpoolDir, cfg.NodeName, id)
	if err != nil {
		return nil, nil, err
	}

	owner := cfg.PwCache[flagOwnerUID]
	if owner.UID == 0 && flagOwnerUID != 0 {
		owner = config.PwRecord{UID: flagOwnerUID}
	}

	state := stepstate.New()
	state.Advance(stepstate.Running)

	cont := container.NewMemory()
	tasks := tasktable.NewMemory()
	comp := completion.New(flagRank, flagDescCount)

	daemon := &lifecycle.Daemon{
		Step:        id,
		State:       state,
		Suspend:     stepstate.NewSuspendFlag(),
		Container:   cont,
		Tasks:       tasks,
		Completion:  comp,
		Hooks:       noopHooks{},
		Watchdog:    noopWatchdog{},
		Attacher:    noopAttacher{},
		Messenger:   singleMessenger{},
		KillWait:    cfg.KillWait,
	}

	core := &server.Core{
		Step:          id,
		NodeID:        flagNodeID,
		OwnerUID:      flagOwnerUID,
		JobMem:        flagJobMem,
		StepMem:       flagStepMem,
		State:         state,
		Container:     cont,
		Tasks:         tasks,
		Completion:    comp,
		Lifecycle:     daemon,
		Identity:      identity.New(owner, cont),
		IsServiceUser: cfg.IsServiceUser,
	}

	if id.IsExtern() {
		core.Extern = extern.New(cont, externLedger{comp}, nopNotifier{}, &nopAggregator{}, &extern.ProcProber{}, flagNodeID, id)
	}

	ln, err := server.Listen(path, core)
	if err != nil {
		return nil, nil, err
	}
	return core, ln, nil
}

func startDebugServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent("stepd").Error().Err(err).Msg("debug http server exited")
		}
	}()
	return srv
}

func waitForShutdown(ln *server.Listener, debugSrv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.WithComponent("stepd").Info().Msg("shutting down")

	var result *multierror.Error
	if err := ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := debugSrv.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
