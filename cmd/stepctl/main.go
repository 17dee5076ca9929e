// Command stepctl is the operator/admin client for a step daemon: it
// dials a step's Unix-domain socket through pkg/client and issues one
// request per invocation, the way an external tool built against
// stepd_api would.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/stepd/pkg/client"
	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/spf13/cobra"
)

var (
	flagSpoolDir    string
	flagNodeName    string
	flagServiceUID  uint32
	flagLogLevel    string
	flagLogJSON     bool

	flagJobID  uint32
	flagStepID uint32
	flagHet    uint32
	flagHasHet bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stepctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stepctl",
	Short: "Admin client for a step daemon's IPC socket",
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&flagSpoolDir, "spool-dir", "/var/spool/stepd", "directory holding step sockets")
	rootCmd.PersistentFlags().StringVar(&flagNodeName, "node", "", "node name the step's socket is registered under")
	rootCmd.PersistentFlags().Uint32Var(&flagServiceUID, "service-uid", 0, "uid of the authorized service user")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit structured JSON logs")

	rootCmd.PersistentFlags().Uint32Var(&flagJobID, "job-id", 0, "job id of the target step")
	rootCmd.PersistentFlags().Uint32Var(&flagStepID, "step-id", 0, "step id of the target step")
	rootCmd.PersistentFlags().Uint32Var(&flagHet, "het-component", 0, "heterogeneous job component index")
	rootCmd.PersistentFlags().BoolVar(&flagHasHet, "het", false, "target step is part of a heterogeneous job")

	rootCmd.MarkPersistentFlagRequired("node")

	rootCmd.AddCommand(
		stateCmd,
		infoCmd,
		listPidsCmd,
		signalCmd,
		notifyCmd,
		suspendCmd,
		resumeCmd,
		terminateCmd,
		reconfigureCmd,
		cleanupCmd,
	)
}

func initLogging() {
	log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagLogJSON})
}

func targetStep() stepid.ID {
	return stepid.ID{JobID: flagJobID, StepID: flagStepID, HetComponent: flagHet, HasHet: flagHasHet}
}

func dial() (*client.Session, error) {
	return client.Connect(flagSpoolDir, flagNodeName, targetStep(), flagServiceUID)
}
