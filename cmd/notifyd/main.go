package main

import (
	"fmt"
	"os"

	"notifyd/internal/fdn"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	fdn.Version = Version
	app := newCLIApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
