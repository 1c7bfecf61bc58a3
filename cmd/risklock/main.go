package main

import (
	"os"

	"risklock/cmd/risklock/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
