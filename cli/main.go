package main

import (
	"os"

	"github.com/ecocrm-platform/ecocrm-stack/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
