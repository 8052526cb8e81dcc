package balancerConfig

import (
	"encoding/json"
	"slices"

	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "BALLAST_"

	Debug               = "debug"
	DryRun              = "dry-run"
	Cluster             = "cluster"
	RpcUrl              = "rpc-url"
	RpcRequestsPerSec   = "rpc-requests-per-second"
	CacheDir            = "cache-dir"
	AuthorityKeystore   = "authority-keystore"
	AuthorityPassphrase = "authority-passphrase"
	WebhookUrl          = "webhook-url"

	Backend             = "backend"
	SourceAccount       = "source-account"
	PoolAddress         = "pool-address"
	BaselineStakeTokens = "baseline-stake-tokens"
	BonusStakeTokens    = "bonus-stake-tokens"
	ValidatorList       = "validator-list"
	RegistryProgram     = "registry-program"

	QualityBlockProducerPercentage = "quality-block-producer-percentage"
	MaxPoorBlockProducerPercentage = "max-poor-block-producer-percentage"
	UseClusterAverageSkipRate      = "use-cluster-average-skip-rate"
	BadClusterAverageSkipRate      = "bad-cluster-average-skip-rate"
	MaxCommission                  = "max-commission"
	MinReleaseVersion              = "min-release-version"
	MaxOldReleaseVersionPercentage = "max-old-release-version-percentage"
	MaxInfraConcentration          = "max-infrastructure-concentration"
	InfraConcentrationAffects      = "infrastructure-concentration-affects"
	DataCenterBaseUrl              = "datacenter-base-url"
	DataCenterToken                = "datacenter-token"
	DelinquentGraceSlotDistance    = "delinquent-grace-slot-distance"
	RecentSlotDistance             = "recent-slot-distance"
)

// SupportedBackends lists the allocation backend variants.
var SupportedBackends = []string{"reserve", "pool"}

type BalancerConfig struct {
	Debug               bool   `json:"debug" yaml:"debug"`
	DryRun              bool   `json:"dryRun" yaml:"dryRun"`
	Cluster             string `json:"cluster" yaml:"cluster"`
	RpcUrl              string `json:"rpcUrl" yaml:"rpcUrl"`
	RpcRequestsPerSec   int    `json:"rpcRequestsPerSecond" yaml:"rpcRequestsPerSecond"`
	CacheDir            string `json:"cacheDir" yaml:"cacheDir"`
	AuthorityKeystore   string `json:"authorityKeystore" yaml:"authorityKeystore"`
	AuthorityPassphrase string `json:"authorityPassphrase" yaml:"authorityPassphrase"`
	WebhookUrl          string `json:"webhookUrl" yaml:"webhookUrl"`

	Backend             string   `json:"backend" yaml:"backend"`
	SourceAccount       string   `json:"sourceAccount" yaml:"sourceAccount"`
	PoolAddress         string   `json:"poolAddress" yaml:"poolAddress"`
	BaselineStakeTokens uint64   `json:"baselineStakeTokens" yaml:"baselineStakeTokens"`
	BonusStakeTokens    uint64   `json:"bonusStakeTokens" yaml:"bonusStakeTokens"`
	ValidatorList       []string `json:"validatorList" yaml:"validatorList"`
	RegistryProgram     string   `json:"registryProgram" yaml:"registryProgram"`

	QualityBlockProducerPercentage int     `json:"qualityBlockProducerPercentage" yaml:"qualityBlockProducerPercentage"`
	MaxPoorBlockProducerPercentage int     `json:"maxPoorBlockProducerPercentage" yaml:"maxPoorBlockProducerPercentage"`
	UseClusterAverageSkipRate      bool    `json:"useClusterAverageSkipRate" yaml:"useClusterAverageSkipRate"`
	BadClusterAverageSkipRate      int     `json:"badClusterAverageSkipRate" yaml:"badClusterAverageSkipRate"`
	MaxCommission                  int     `json:"maxCommission" yaml:"maxCommission"`
	MinReleaseVersion              string  `json:"minReleaseVersion" yaml:"minReleaseVersion"`
	MaxOldReleaseVersionPercentage int     `json:"maxOldReleaseVersionPercentage" yaml:"maxOldReleaseVersionPercentage"`
	MaxInfraConcentration          float64 `json:"maxInfrastructureConcentration" yaml:"maxInfrastructureConcentration"`
	InfraConcentrationAffects      string  `json:"infrastructureConcentrationAffects" yaml:"infrastructureConcentrationAffects"`
	DataCenterBaseUrl              string  `json:"datacenterBaseUrl" yaml:"datacenterBaseUrl"`
	DataCenterToken                string  `json:"datacenterToken" yaml:"datacenterToken"`
	DelinquentGraceSlotDistance    uint64  `json:"delinquentGraceSlotDistance" yaml:"delinquentGraceSlotDistance"`
	RecentSlotDistance             uint64  `json:"recentSlotDistance" yaml:"recentSlotDistance"`
}

// BaselineStakeUnits converts the configured baseline tier to base units.
func (bc *BalancerConfig) BaselineStakeUnits() uint64 {
	return bc.BaselineStakeTokens * types.UnitsPerToken
}

// BonusStakeUnits converts the configured bonus tier to base units.
func (bc *BalancerConfig) BonusStakeUnits() uint64 {
	return bc.BonusStakeTokens * types.UnitsPerToken
}

// ConcentrationEnabled reports whether the infrastructure concentration
// policy participates in this run.
func (bc *BalancerConfig) ConcentrationEnabled() bool {
	return bc.MaxInfraConcentration > 0
}

func (bc *BalancerConfig) Validate() error {
	var allErrors field.ErrorList
	if bc.Cluster == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("cluster"), "cluster is required"))
	} else if !slices.Contains(config.SupportedClusters, config.Cluster(bc.Cluster)) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("cluster"), bc.Cluster, "unsupported cluster"))
	}
	if bc.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if bc.Backend == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("backend"), "backend is required"))
	} else if !slices.Contains(SupportedBackends, bc.Backend) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("backend"), bc.Backend, "unsupported backend"))
	}
	if bc.Backend == "reserve" && bc.SourceAccount == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("sourceAccount"), "sourceAccount is required for the reserve backend"))
	}
	if bc.Backend == "pool" && bc.PoolAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("poolAddress"), "poolAddress is required for the pool backend"))
	}
	if bc.BaselineStakeTokens == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("baselineStakeTokens"), "baselineStakeTokens must be positive"))
	}
	if bc.Backend == "reserve" && bc.BonusStakeTokens < bc.BaselineStakeTokens {
		allErrors = append(allErrors, field.Invalid(field.NewPath("bonusStakeTokens"), bc.BonusStakeTokens, "bonusStakeTokens must be at least baselineStakeTokens"))
	}
	if bc.MaxCommission < 0 || bc.MaxCommission > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxCommission"), bc.MaxCommission, "maxCommission must be between 0 and 100"))
	}
	if bc.QualityBlockProducerPercentage < 0 || bc.QualityBlockProducerPercentage > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("qualityBlockProducerPercentage"), bc.QualityBlockProducerPercentage, "must be between 0 and 100"))
	}
	if bc.MaxPoorBlockProducerPercentage < 0 || bc.MaxPoorBlockProducerPercentage > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxPoorBlockProducerPercentage"), bc.MaxPoorBlockProducerPercentage, "must be between 0 and 100"))
	}
	if bc.MaxOldReleaseVersionPercentage < 0 || bc.MaxOldReleaseVersionPercentage > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxOldReleaseVersionPercentage"), bc.MaxOldReleaseVersionPercentage, "must be between 0 and 100"))
	}
	if bc.ConcentrationEnabled() && bc.InfraConcentrationAffects == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("infrastructureConcentrationAffects"), "required when maxInfrastructureConcentration is set"))
	}
	if bc.ConcentrationEnabled() && bc.DataCenterBaseUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("datacenterBaseUrl"), "required when maxInfrastructureConcentration is set"))
	}
	if len(bc.ValidatorList) == 0 && bc.RegistryProgram == "" && bc.Backend == "reserve" {
		allErrors = append(allErrors, field.Required(field.NewPath("validatorList"), "the reserve backend needs a validatorList or a registryProgram"))
	}
	if !bc.DryRun {
		if bc.AuthorityKeystore == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("authorityKeystore"), "authorityKeystore is required for live runs"))
		}
		if bc.WebhookUrl == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("webhookUrl"), "a notifier must be active for live runs"))
		}
	}
	return allErrors.ToAggregate()
}

func NewBalancerConfigFromJsonBytes(data []byte) (*BalancerConfig, error) {
	c := DefaultBalancerConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal BalancerConfig from JSON")
	}
	return c, nil
}

func NewBalancerConfigFromYamlBytes(data []byte) (*BalancerConfig, error) {
	c := DefaultBalancerConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal BalancerConfig from YAML")
	}
	return c, nil
}

// DefaultBalancerConfig carries the stock policy knobs. Runs start in dry-run
// mode; live submission is always an explicit choice.
func DefaultBalancerConfig() *BalancerConfig {
	return &BalancerConfig{
		DryRun:                         true,
		Cluster:                        string(config.Cluster_Testnet),
		RpcRequestsPerSec:              10,
		Backend:                        "reserve",
		BaselineStakeTokens:            5_000,
		BonusStakeTokens:               50_000,
		QualityBlockProducerPercentage: 15,
		MaxPoorBlockProducerPercentage: 20,
		UseClusterAverageSkipRate:      true,
		BadClusterAverageSkipRate:      50,
		MaxCommission:                  100,
		MaxOldReleaseVersionPercentage: 10,
		InfraConcentrationAffects:      "warn",
		DelinquentGraceSlotDistance:    21_600,
		RecentSlotDistance:             256,
	}
}

// NewBalancerConfig assembles a config from bound viper flags and
// environment variables.
func NewBalancerConfig() *BalancerConfig {
	return &BalancerConfig{
		Debug:               viper.GetBool(config.NormalizeFlagName(Debug)),
		DryRun:              viper.GetBool(config.NormalizeFlagName(DryRun)),
		Cluster:             viper.GetString(config.NormalizeFlagName(Cluster)),
		RpcUrl:              viper.GetString(config.NormalizeFlagName(RpcUrl)),
		RpcRequestsPerSec:   viper.GetInt(config.NormalizeFlagName(RpcRequestsPerSec)),
		CacheDir:            viper.GetString(config.NormalizeFlagName(CacheDir)),
		AuthorityKeystore:   viper.GetString(config.NormalizeFlagName(AuthorityKeystore)),
		AuthorityPassphrase: viper.GetString(config.NormalizeFlagName(AuthorityPassphrase)),
		WebhookUrl:          viper.GetString(config.NormalizeFlagName(WebhookUrl)),

		Backend:             viper.GetString(config.NormalizeFlagName(Backend)),
		SourceAccount:       viper.GetString(config.NormalizeFlagName(SourceAccount)),
		PoolAddress:         viper.GetString(config.NormalizeFlagName(PoolAddress)),
		BaselineStakeTokens: viper.GetUint64(config.NormalizeFlagName(BaselineStakeTokens)),
		BonusStakeTokens:    viper.GetUint64(config.NormalizeFlagName(BonusStakeTokens)),
		ValidatorList:       viper.GetStringSlice(config.NormalizeFlagName(ValidatorList)),
		RegistryProgram:     viper.GetString(config.NormalizeFlagName(RegistryProgram)),

		QualityBlockProducerPercentage: viper.GetInt(config.NormalizeFlagName(QualityBlockProducerPercentage)),
		MaxPoorBlockProducerPercentage: viper.GetInt(config.NormalizeFlagName(MaxPoorBlockProducerPercentage)),
		UseClusterAverageSkipRate:      viper.GetBool(config.NormalizeFlagName(UseClusterAverageSkipRate)),
		BadClusterAverageSkipRate:      viper.GetInt(config.NormalizeFlagName(BadClusterAverageSkipRate)),
		MaxCommission:                  viper.GetInt(config.NormalizeFlagName(MaxCommission)),
		MinReleaseVersion:              viper.GetString(config.NormalizeFlagName(MinReleaseVersion)),
		MaxOldReleaseVersionPercentage: viper.GetInt(config.NormalizeFlagName(MaxOldReleaseVersionPercentage)),
		MaxInfraConcentration:          viper.GetFloat64(config.NormalizeFlagName(MaxInfraConcentration)),
		InfraConcentrationAffects:      viper.GetString(config.NormalizeFlagName(InfraConcentrationAffects)),
		DataCenterBaseUrl:              viper.GetString(config.NormalizeFlagName(DataCenterBaseUrl)),
		DataCenterToken:                viper.GetString(config.NormalizeFlagName(DataCenterToken)),
		DelinquentGraceSlotDistance:    viper.GetUint64(config.NormalizeFlagName(DelinquentGraceSlotDistance)),
		RecentSlotDistance:             viper.GetUint64(config.NormalizeFlagName(RecentSlotDistance)),
	}
}
