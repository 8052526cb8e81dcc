package config

import "strings"

// Cluster names the ledger deployment a run targets. The cluster namespaces
// the confirmed-block cache and selects which registry identity column
// applies.
type Cluster string

const (
	Cluster_Mainnet Cluster = "mainnet"
	Cluster_Testnet Cluster = "testnet"
)

var (
	SupportedClusters = []Cluster{
		Cluster_Mainnet,
		Cluster_Testnet,
	}
)

func (c Cluster) String() string {
	return string(c)
}

// KebabToSnakeCase rewrites a kebab-case flag name into the snake_case key
// viper expects.
func KebabToSnakeCase(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// NormalizeFlagName maps a flag name to its viper lookup key.
func NormalizeFlagName(s string) string {
	return KebabToSnakeCase(strings.ReplaceAll(s, ".", "-"))
}
