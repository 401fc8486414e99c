package main

import (
	"os"

	"github.com/joshsymonds/triage/cmd/triage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
