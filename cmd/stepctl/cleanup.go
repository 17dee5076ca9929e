package main

import (
	"fmt"

	"github.com/cuemby/stepd/pkg/socketloc"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-stray-sockets",
	Short: "Scan spool-dir for abandoned step sockets and unlink the ones old enough to be stray",
	RunE: func(cmd *cobra.Command, args []string) error {
		locs, err := socketloc.Scan(flagSpoolDir, flagNodeName)
		if err != nil {
			return err
		}

		var removed int
		for _, loc := range locs {
			ok, err := socketloc.CleanIfStray(loc.Path, flagServiceUID)
			if err != nil {
				fmt.Printf("%s: %v\n", loc.Path, err)
				continue
			}
			if ok {
				fmt.Printf("%s: removed\n", loc.Path)
				removed++
			}
		}
		fmt.Printf("scanned %d, removed %d\n", len(locs), removed)
		return nil
	},
}
