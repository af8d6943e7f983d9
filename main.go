package main

import (
	"os"

	"github.com/go-kit/kit/log/level"
	"github.com/joho/godotenv"

	"github.com/nkazure/azblobber/internal"
	"github.com/nkazure/azblobber/internal/command"
)

func main() {
	// Values already in the environment take precedence over the .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		level.Warn(internal.NewLogger(internal.LogLevelWarn, internal.LogFormatLogfmt, "azblobber")).Log("msg", "could not load .env", "err", err)
	}

	if err := command.NewApp().Run(os.Args); err != nil {
		logger := internal.NewLogger(internal.LogLevelError, internal.LogFormatLogfmt, "azblobber")
		level.Error(logger).Log("msg", "command failed", "err", err)
		os.Exit(command.ExitCode(err))
	}
}
