package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/stepd/pkg/wire"
	"github.com/spf13/cobra"
)

var flagSignalFlags int32

var signalCmd = &cobra.Command{
	Use:   "signal <signal>",
	Short: "Send SIGNAL_CONTAINER (accepts POSIX names, numbers, or a pseudo-signal name)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := parseSignal(args[0])
		if err != nil {
			return err
		}

		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.SignalContainer(sig, flagSignalFlags)
		if err != nil {
			return err
		}
		return printRC(reply)
	},
}

func init() {
	signalCmd.Flags().Int32Var(&flagSignalFlags, "flags", 0, "SignalFlag bitmask (e.g. 1 for kill-job-batch)")
}

// namedSignals maps every signal pkg/wire names, both POSIX and
// pseudo, to its value, so an operator can type "term" or "time-limit"
// without knowing the numeric encoding.
var namedSignals = map[string]wire.Signal{
	"hup":         wire.SIGHUP,
	"int":         wire.SIGINT,
	"cont":        wire.SIGCONT,
	"stop":        wire.SIGSTOP,
	"tstp":        wire.SIGTSTP,
	"term":        wire.SIGTERM,
	"kill":        wire.SIGKILL,
	"time-limit":  wire.SigTimeLimit,
	"preempted":   wire.SigPreempted,
	"node-fail":   wire.SigNodeFail,
	"requeued":    wire.SigRequeued,
	"failure":     wire.SigFailure,
	"ume":         wire.SigUME,
	"term-kill":   wire.SigTermKill,
	"abort":       wire.SigAbort,
	"debug-wake":  wire.SigDebugWake,
}

func parseSignal(s string) (wire.Signal, error) {
	if sig, ok := namedSignals[strings.ToLower(s)]; ok {
		return sig, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("stepctl: unrecognized signal %q", s)
	}
	return wire.Signal(n), nil
}

var notifyCmd = &cobra.Command{
	Use:   "notify <message>",
	Short: "Send JOB_NOTIFY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Notify(args[0])
		if err != nil {
			return err
		}
		fmt.Println(reply.RC)
		return nil
	},
}

var flagCoreSpec uint16

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Send STEP_SUSPEND",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Suspend(flagCoreSpec)
		if err != nil {
			return err
		}
		return printRC(reply)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Send STEP_RESUME",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Resume(flagCoreSpec)
		if err != nil {
			return err
		}
		return printRC(reply)
	},
}

func init() {
	suspendCmd.Flags().Uint16Var(&flagCoreSpec, "core-spec", 0, "core specialization count to apply")
	resumeCmd.Flags().Uint16Var(&flagCoreSpec, "core-spec", 0, "core specialization count to restore")
}

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Send STEP_TERMINATE",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Terminate()
		if err != nil {
			return err
		}
		return printRC(reply)
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Send STEP_RECONFIGURE",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Reconfigure()
		if err != nil {
			return err
		}
		return printRC(reply)
	},
}

func printRC(reply wire.RCReply) error {
	if reply.RC != wire.RCOk {
		return fmt.Errorf("stepctl: rc=%d errno=%d", reply.RC, reply.Errno)
	}
	fmt.Println("ok")
	return nil
}
