package keygenConfig

import (
	"encoding/json"

	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "KEYGEN_"

	Debug      = "debug"
	OutputFile = "output-file"
	KeyFile    = "key-file"
	Passphrase = "passphrase"
	Seed       = "seed"
	LightKdf   = "light-kdf"
)

// KeygenConfig represents the configuration for the keystore utility
type KeygenConfig struct {
	Debug      bool   `json:"debug" yaml:"debug"`
	OutputFile string `json:"outputFile" yaml:"outputFile"`
	KeyFile    string `json:"keyFile" yaml:"keyFile"`
	Passphrase string `json:"passphrase" yaml:"passphrase"`
	Seed       string `json:"seed" yaml:"seed"`
	LightKdf   bool   `json:"lightKdf" yaml:"lightKdf"`
}

// Validate ensures that all required fields are set
func (kc *KeygenConfig) Validate() error {
	var allErrors field.ErrorList

	// If we're generating a key, the output file is required
	if kc.KeyFile == "" && kc.OutputFile == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("outputFile"), "outputFile is required for key generation"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// NewKeygenConfig creates a new KeygenConfig with values from viper
func NewKeygenConfig() *KeygenConfig {
	return &KeygenConfig{
		Debug:      viper.GetBool(config.NormalizeFlagName(Debug)),
		OutputFile: viper.GetString(config.NormalizeFlagName(OutputFile)),
		KeyFile:    viper.GetString(config.NormalizeFlagName(KeyFile)),
		Passphrase: viper.GetString(config.NormalizeFlagName(Passphrase)),
		Seed:       viper.GetString(config.NormalizeFlagName(Seed)),
		LightKdf:   viper.GetBool(config.NormalizeFlagName(LightKdf)),
	}
}

// NewKeygenConfigFromYamlBytes creates a KeygenConfig from YAML bytes
func NewKeygenConfigFromYamlBytes(data []byte) (*KeygenConfig, error) {
	var kc *KeygenConfig
	if err := yaml.Unmarshal(data, &kc); err != nil {
		return nil, err
	}
	return kc, nil
}

// NewKeygenConfigFromJsonBytes creates a KeygenConfig from JSON bytes
func NewKeygenConfigFromJsonBytes(data []byte) (*KeygenConfig, error) {
	var kc *KeygenConfig
	if err := json.Unmarshal(data, &kc); err != nil {
		return nil, err
	}
	return kc, nil
}
