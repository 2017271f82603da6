// Command scriptbind runs scripts against the bundled native bindings.
package main

import (
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptbind",
		Short:         "Run scripts with native bindings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scriptbind.yaml)")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(), newClassesCmd())
	return root
}

// Loads the config file, if any, and binds flags and SCRIPTBIND_ environment
// variables into Viper.
func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".scriptbind")
	}
	viper.SetEnvPrefix("scriptbind")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return err
		}
	}
	processGlobalFlags()
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}
