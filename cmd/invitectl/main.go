// Package main provides invitectl, a terminal client for bulk invitation
// uploads against the Job Service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd(defaultDeps()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
