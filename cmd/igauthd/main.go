// Package main is the entry point for the igauthd command
package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-igauth/cmd/igauthd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
