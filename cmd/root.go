package cmd

import (
	"fmt"

	"github.com/acrenier/imagerie/cmd/classify"
	"github.com/acrenier/imagerie/cmd/serve"
	"github.com/acrenier/imagerie/cmd/taxonomy"
	"github.com/acrenier/imagerie/cmd/train"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imagerie",
		Short: "Image classification catalog CLI",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		train.Command(settings),
		classify.Command(settings),
		taxonomy.Command(settings),
		serve.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}
		// Command-line arguments take precedence over the config file
		settings.Debug = viper.GetBool("debug")
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding flags: %w", err))
	}
}
