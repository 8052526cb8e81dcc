package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/Layr-Labs/ballast/pkg/keygen/keygenConfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and manage the stake authority keystore",
	Long:  `A tool for generating, inspecting and verifying the encrypted ed25519 keystore that authorizes stake operations.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var Config *keygenConfig.KeygenConfig

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(keygenConfig.Debug, false, `"true" or "false"`)

	// setup sub commands
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(keygenConfig.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func initConfigIfPresent() {
	hasConfig := false
	if configFile != "" {
		viper.SetConfigFile(configFile)
		hasConfig = true
	}

	if hasConfig {
		fmt.Printf("Using config file: %s\n", configFile)
		if err := viper.ReadInConfig(); err != nil {
			panic(err)
		}
		if err := viper.Unmarshal(&Config); err != nil {
			panic(err)
		}
	} else {
		Config = keygenConfig.NewKeygenConfig()
	}
}

func main() {
	Execute()
}
