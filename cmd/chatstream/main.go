package main

import (
	"errors"
	"fmt"
	"os"

	"chatstream/internal/adapter/gateway"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	gateway.Version = version
	if err := newRootCmd().Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "chatstream: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries the exit status for a failure already shown to the user.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
