package main

import (
	"context"
	"errors"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			reportError(cmd, err)
		}
		os.Exit(1)
	}
}
