package main

import (
	"os"

	"github.com/qnative/qniot/cmd/qniot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
