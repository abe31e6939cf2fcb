package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// An interrupted run is not a failure worth repeating on stderr;
		// the daemon already logged its shutdown.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "capflow:", err)
		}
		os.Exit(1)
	}
}
