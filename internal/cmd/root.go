// Package cmd implements the maestro command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/maestro/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Multi-agent software development orchestrator",
	Long: `Maestro decomposes a development instruction into tasks, executes
them with coding agents in isolated git worktrees, judges each result
against its acceptance criteria, and escalates to the user when it gets
stuck.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/maestro/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MAESTRO")
	// MAESTRO_LEADER_MAX_ITERATIONS resolves leader.max_iterations
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer())

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
