/**
 * @description
 * Entry point for interbankd, the interbank transfer service. The binary is a
 * small Cobra command tree: `serve` runs the HTTP API, the reconciler and the
 * event producer, while the remaining commands perform one-shot
 * administration against the same database (migrations, key generation,
 * registry enrolment, user and account provisioning).
 *
 * @dependencies
 * - github.com/spf13/cobra: command tree and flags.
 * - github.com/joho/godotenv: loads .env files during local development.
 * - internal/config: environment-backed configuration.
 */

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
