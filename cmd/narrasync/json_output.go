package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"narrasync/internal/api"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportError prints a failed command's error to stderr. With --json the
// error is written as the same classified body the HTTP API returns.
func reportError(cmd *cobra.Command, err error) {
	out := cmd.ErrOrStderr()
	if asJSON, _ := cmd.PersistentFlags().GetBool("json"); asJSON {
		_, body := api.FromError(err)
		if encodeErr := json.NewEncoder(out).Encode(body); encodeErr == nil {
			return
		}
	}
	fmt.Fprintln(out, err)
}
