package main

import (
	"log/slog"
	"os"

	"github.com/AltaraLabs/mq/runtime"
)

func main() {
	// The default config file path can be set here
	// It's passed to the runtime, which handles flag parsing for --config override.
	rt, err := runtime.New(os.Args[1:], "mqd.yaml")
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	if err := rt.Run(); err != nil {
		slog.Error("Runtime exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Application exiting.")
}
