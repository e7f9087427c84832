// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/adiadia/webhook-runtime/internal/endpoints"
)

// runCheckEndpoints loads an endpoints file with the same rules the API uses
// and prints one row per endpoint.
func runCheckEndpoints(out io.Writer, logger *slog.Logger, path string) error {
	registry, err := endpoints.Load(path)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tURL\tEVENT TYPES")
	for _, ep := range registry.All() {
		url := ep.URL
		if !ep.Configured() {
			url = "(none, publishes are skipped)"
		}
		types := "*"
		if len(ep.EventTypes) > 0 {
			names := make([]string, 0, len(ep.EventTypes))
			for _, t := range ep.EventTypes {
				names = append(names, string(t))
			}
			types = strings.Join(names, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ep.Name, url, types)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	logger.Info("endpoints file valid", "path", path, "count", registry.Len())
	return nil
}
