package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/article-gateway/internal/api"
	"github.com/JakeFAU/article-gateway/internal/server"
)

// errRetrievalFailed marks a printed error envelope so the exit status is non-zero.
var errRetrievalFailed = errors.New("retrieval failed")

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <url>",
		Short: "Retrieve one article through the cache and print the envelope",
		Long: `Runs a single retrieval with the configured store, fetchers and sinks,
exactly as POST / would, and prints the success or error envelope as JSON.
No credential is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			start := time.Now()
			res, retrieveErr := app.Orchestrator().Retrieve(cmd.Context(), args[0])
			now := time.Now()

			var envelope any
			if retrieveErr != nil {
				envelope = api.NewError(retrieveErr, cfg.Production(), now)
			} else {
				envelope = api.NewSuccess(res, now.Sub(start), now)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(envelope); err != nil {
				return fmt.Errorf("write envelope: %w", err)
			}
			if retrieveErr != nil {
				return errRetrievalFailed
			}
			return nil
		},
	}
}
