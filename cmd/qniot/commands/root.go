// Package commands implements the qniot CLI: registering simulated device
// identities and driving full protocol sessions against the statevector
// simulator.
package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qnative/qniot/identity"
)

var (
	registryPath string
	secret       string
	seed         int64
	verbose      bool

	registry *identity.Registry
)

func Execute() error {
	root := &cobra.Command{
		Use:           "qniot",
		Short:         "Quantum-secured IoT onboarding simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
			registry = identity.NewRegistry()
			if registryPath == "" {
				return nil
			}
			f, err := os.Open(registryPath)
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return err
			}
			defer f.Close()
			return registry.Load(f)
		},
	}

	root.PersistentFlags().StringVar(&registryPath, "registry", "", "identity registry file (default in-memory)")
	root.PersistentFlags().StringVar(&secret, "secret", identity.DefaultSecret, "shared secret for identity derivation")
	root.PersistentFlags().Int64Var(&seed, "seed", 42, "simulator randomness seed")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(registerCmd(), runCmd(), monitorCmd())
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func saveRegistry() error {
	if registryPath == "" {
		return nil
	}
	f, err := os.Create(registryPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return registry.Save(f)
}
