package main

import (
	"os"

	"github.com/abramin/callscope/cmd/callscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
