package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/article-gateway/internal/cachekey"
)

func newKeyCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "key <url>",
		Short: "Print the cache key for a URL",
		Long: `Prints the store key the gateway derives for the exact URL string. No
normalization is applied, so "https://a.com/x" and "https://a.com/x/" differ.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if algorithm == "" {
				cfg, err := configFrom(cmd.Context())
				if err != nil {
					return err
				}
				algorithm = cfg.Cache.KeyAlgorithm
			}
			deriver, err := cachekey.NewForAlgorithm(algorithm)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), deriver.Derive(args[0]))
			return err
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "key algorithm (sha256 or blake3); defaults to cache.key_algorithm")
	return cmd
}
