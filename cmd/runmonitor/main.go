package main

import (
	"fmt"
	"os"

	"github.com/therealutkarshpriyadarshi/runmonitor/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
