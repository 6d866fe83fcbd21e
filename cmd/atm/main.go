// Command atm enumerates every melody of a fixed length over a fixed note
// set and writes them as MIDI files into sharded tar archives.
//
// Logging:
//   - The logger is built once by the root command from --log-level and
//     --log-format, and passed to every component.
//   - No global slog configuration (no slog.SetDefault).
//   - Components scope loggers with their own "component" attribute.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"atm/cmd/atm/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCommand(version).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
