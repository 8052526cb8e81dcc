package main

import (
	"encoding/hex"
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/Layr-Labs/ballast/pkg/keygen/keygenConfig"
	"github.com/Layr-Labs/ballast/pkg/keys"
	"github.com/Layr-Labs/ballast/pkg/keys/keystore"
	"github.com/Layr-Labs/ballast/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new authority keypair and save it encrypted",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		if Config.OutputFile == "" {
			return fmt.Errorf("output file path is required")
		}

		var (
			keypair *keys.Keypair
			err     error
		)

		// Check if a seed is provided
		if Config.Seed != "" {
			seedBytes, err := hex.DecodeString(Config.Seed)
			if err != nil {
				return fmt.Errorf("invalid seed format: %w", err)
			}
			keypair, err = keys.NewKeypairFromSeed(seedBytes)
			if err != nil {
				return fmt.Errorf("failed to derive keypair from seed: %w", err)
			}
		} else {
			// Generate a random keypair
			keypair, err = keys.GenerateKeypair()
			if err != nil {
				return fmt.Errorf("failed to generate keypair: %w", err)
			}
		}

		passphrase := Config.Passphrase
		generated := false
		if passphrase == "" {
			passphrase, err = keystore.GenerateRandomPassword(24)
			if err != nil {
				return fmt.Errorf("failed to generate a passphrase: %w", err)
			}
			generated = true
		}

		opts := keystore.Default()
		if Config.LightKdf {
			opts = keystore.Light()
		}

		if err := keystore.Save(keypair, Config.OutputFile, passphrase, opts); err != nil {
			return fmt.Errorf("failed to save keystore: %w", err)
		}

		l.Sugar().Infow("Generated authority keystore",
			"identity", keypair.Identity().String(),
			"keystoreFile", Config.OutputFile,
		)
		if generated {
			l.Sugar().Infow("Generated a random passphrase, store it safely", "passphrase", passphrase)
		}

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display information about a keystore file",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		keyFile := Config.KeyFile
		if keyFile == "" {
			return fmt.Errorf("key file path is required")
		}

		info, err := keystore.Info(keyFile)
		if err != nil {
			return fmt.Errorf("failed to read keystore: %w", err)
		}

		l.Sugar().Infow("Keystore information",
			"file", keyFile,
			"publicKey", info["publicKey"],
			"uuid", info["uuid"],
			"version", info["version"],
		)

		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a keystore file decrypts with the given passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		keyFile := Config.KeyFile
		if keyFile == "" {
			return fmt.Errorf("key file path is required")
		}

		if err := keystore.Verify(keyFile, Config.Passphrase); err != nil {
			return err
		}

		l.Sugar().Infow("Keystore verified", "file", keyFile)

		return nil
	},
}

func init() {
	// Generate command flags
	generateCmd.Flags().String(keygenConfig.OutputFile, "", "Path to write the encrypted keystore to")
	generateCmd.Flags().String(keygenConfig.Passphrase, "", "Passphrase for encrypting the keystore, generated when empty")
	generateCmd.Flags().String(keygenConfig.Seed, "", "Hex-encoded 32-byte seed for deterministic key generation")
	generateCmd.Flags().Bool(keygenConfig.LightKdf, false, "Use lighter scrypt parameters, for test keys only")

	// Info command flags
	infoCmd.Flags().String(keygenConfig.KeyFile, "", "Path to the keystore file to display information about")

	// Verify command flags
	verifyCmd.Flags().String(keygenConfig.KeyFile, "", "Path to the keystore file to verify")
	verifyCmd.Flags().String(keygenConfig.Passphrase, "", "Passphrase the keystore is expected to decrypt with")

	// Bind the flags to viper
	for _, cmd := range []*cobra.Command{generateCmd, infoCmd, verifyCmd} {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
				fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
			}
		})
	}
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
