// Command newsletter runs the newsletter publishing API and delivery workers.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-newsletter/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := cli.NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("newsletter failed")
		os.Exit(1)
	}
}
