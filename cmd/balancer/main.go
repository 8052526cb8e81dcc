package main

import (
	"os"
	"strings"

	"github.com/Layr-Labs/ballast/pkg/balancer/balancerConfig"
	"github.com/Layr-Labs/ballast/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "balancer",
	Short: "Rebalance delegated stake from observed validator performance",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var Config *balancerConfig.BalancerConfig

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	defaults := balancerConfig.DefaultBalancerConfig()
	pf := rootCmd.PersistentFlags()

	pf.Bool(balancerConfig.Debug, defaults.Debug, `"true" or "false"`)
	pf.Bool(balancerConfig.DryRun, defaults.DryRun, "plan and notify without submitting operations")
	pf.String(balancerConfig.Cluster, defaults.Cluster, "cluster to run against (mainnet or testnet)")
	pf.String(balancerConfig.RpcUrl, defaults.RpcUrl, "ledger RPC endpoint")
	pf.Int(balancerConfig.RpcRequestsPerSec, defaults.RpcRequestsPerSec, "RPC request budget per second")
	pf.String(balancerConfig.CacheDir, defaults.CacheDir, "directory for the confirmed block cache")
	pf.String(balancerConfig.AuthorityKeystore, defaults.AuthorityKeystore, "path to the stake authority keystore")
	pf.String(balancerConfig.AuthorityPassphrase, defaults.AuthorityPassphrase, "passphrase for the stake authority keystore")
	pf.String(balancerConfig.WebhookUrl, defaults.WebhookUrl, "webhook endpoint for operator notifications")

	pf.String(balancerConfig.Backend, defaults.Backend, "allocation backend (reserve or pool)")
	pf.String(balancerConfig.SourceAccount, defaults.SourceAccount, "reserve backend funding account")
	pf.String(balancerConfig.PoolAddress, defaults.PoolAddress, "pool backend stake pool address")
	pf.Uint64(balancerConfig.BaselineStakeTokens, defaults.BaselineStakeTokens, "baseline stake tier in whole tokens")
	pf.Uint64(balancerConfig.BonusStakeTokens, defaults.BonusStakeTokens, "bonus stake tier in whole tokens")
	pf.StringSlice(balancerConfig.ValidatorList, defaults.ValidatorList, "validator identities enrolled in the reserve backend")
	pf.String(balancerConfig.RegistryProgram, defaults.RegistryProgram, "on-ledger registry program to source enrollment from")

	pf.Int(balancerConfig.QualityBlockProducerPercentage, defaults.QualityBlockProducerPercentage, "skip rate allowance before a producer counts as poor")
	pf.Int(balancerConfig.MaxPoorBlockProducerPercentage, defaults.MaxPoorBlockProducerPercentage, "poor producer share that voids an epoch's demotions")
	pf.Bool(balancerConfig.UseClusterAverageSkipRate, defaults.UseClusterAverageSkipRate, "floor the poor producer test at the cluster average skip rate")
	pf.Int(balancerConfig.BadClusterAverageSkipRate, defaults.BadClusterAverageSkipRate, "cluster average skip rate that triggers an operator warning")
	pf.Int(balancerConfig.MaxCommission, defaults.MaxCommission, "highest commission percentage eligible for stake")
	pf.String(balancerConfig.MinReleaseVersion, defaults.MinReleaseVersion, "oldest software release eligible for stake")
	pf.Int(balancerConfig.MaxOldReleaseVersionPercentage, defaults.MaxOldReleaseVersionPercentage, "stale validator share above which staleness destakes pause")
	pf.Float64(balancerConfig.MaxInfraConcentration, defaults.MaxInfraConcentration, "datacenter stake concentration ceiling, 0 disables")
	pf.String(balancerConfig.InfraConcentrationAffects, defaults.InfraConcentrationAffects, `"warn", "destake", or a YAML list of identities to destake`)
	pf.String(balancerConfig.DataCenterBaseUrl, defaults.DataCenterBaseUrl, "datacenter attribution service base URL")
	pf.String(balancerConfig.DataCenterToken, defaults.DataCenterToken, "datacenter attribution service API token")
	pf.Uint64(balancerConfig.DelinquentGraceSlotDistance, defaults.DelinquentGraceSlotDistance, "root slot distance beyond which delinquent validators are destaked")
	pf.Uint64(balancerConfig.RecentSlotDistance, defaults.RecentSlotDistance, "root slot distance beyond which validators are held unchanged")

	viper.SetEnvPrefix(balancerConfig.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// setup sub commands
	rootCmd.AddCommand(runCmd)

	pf.VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfigIfPresent() {
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			panic(err)
		}
		cfg, err := balancerConfig.NewBalancerConfigFromYamlBytes(data)
		if err != nil {
			panic(err)
		}
		Config = cfg
	} else {
		Config = balancerConfig.NewBalancerConfig()
	}
}

func main() {
	Execute()
}
