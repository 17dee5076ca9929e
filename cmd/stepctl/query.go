package main

import (
	"fmt"

	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the step's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.State()
		if err != nil {
			return err
		}
		fmt.Println(stepstate.State(reply.State))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the step's identity and protocol version",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.Info()
		if err != nil {
			return err
		}
		fmt.Printf("job=%d step=%d uid=%d node=%d protocol=%d job_mem=%d step_mem=%d\n",
			reply.JobID, reply.StepID, reply.UID, reply.NodeID, reply.ProtocolVersion, reply.JobMem, reply.StepMem)
		return nil
	},
}

var listPidsCmd = &cobra.Command{
	Use:   "list-pids",
	Short: "List pids running inside the step's container",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := dial()
		if err != nil {
			return err
		}
		defer sess.Close()

		reply, err := sess.ListPids()
		if err != nil {
			return err
		}
		for _, pid := range reply.Pids {
			fmt.Println(pid)
		}
		return nil
	},
}
