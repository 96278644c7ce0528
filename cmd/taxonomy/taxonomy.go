// Package taxonomy implements the command resolving taxon names against
// the remote taxonomy service.
package taxonomy

import (
	"fmt"
	"strings"

	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/taxonomy"
	"github.com/spf13/cobra"
)

// Command creates the taxonomy command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Taxonomy utilities",
	}
	cmd.AddCommand(resolveCommand(settings))
	return cmd
}

func resolveCommand(settings *conf.Settings) *cobra.Command {
	var genusLevel bool

	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Clean a taxon name and look up its external taxonomy ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, settings, strings.Join(args, " "), !genusLevel)
		},
	}

	cmd.Flags().BoolVar(&genusLevel, "genus", false, "Treat the name as a single-token genus-level taxon")
	return cmd
}

func runResolve(cmd *cobra.Command, settings *conf.Settings, name string, speciesLevel bool) error {
	client, err := taxonomy.NewClient(taxonomy.Config{
		BaseURL:     settings.Taxonomy.BaseURL,
		Timeout:     settings.Taxonomy.Timeout,
		CacheTTL:    settings.Taxonomy.CacheTTL,
		RateLimitMS: settings.Taxonomy.RateLimitMS,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	cleanName := taxonomy.CleanName(name, speciesLevel)
	fmt.Fprintf(cmd.OutOrStdout(), "Clean name: %s\n", cleanName)

	id, found, err := client.Resolve(cmd.Context(), cleanName)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(cmd.OutOrStdout(), "No match in the taxonomy service")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "External ID: %d\n", id)
	return nil
}
