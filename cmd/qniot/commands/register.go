package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register [device-id] [serial]",
		Short: "Derive and store a quantum identity for a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := registry.Register(args[0], args[1], secret)
			if err := saveRegistry(); err != nil {
				return err
			}
			fmt.Printf("Registered %s (serial %s): p0=%.4f, p1=%.4f\n",
				d.ID, d.Serial, d.P0, d.P1)
			return nil
		},
	}
	return cmd
}
