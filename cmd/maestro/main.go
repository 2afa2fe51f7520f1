package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Iron-Ham/maestro/internal/cmd"
)

func main() {
	// A .env in the working directory supplies MAESTRO_* overrides and
	// agent credentials; absence is not an error.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
