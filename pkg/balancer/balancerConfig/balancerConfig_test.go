package balancerConfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	validJson = `
{
	"cluster": "mainnet",
	"rpcUrl": "https://api.mainnet.example.com",
	"backend": "reserve",
	"sourceAccount": "1111111111111111111111111111111111111111111111111111111111111111",
	"validatorList": ["2222222222222222222222222222222222222222222222222222222222222222"]
}`
	invalidJson = `
{
	"cluster": "mainnet",
	"baselineStakeTokens": "plenty"
}`

	validYaml = `
---
cluster: mainnet
rpcUrl: https://api.mainnet.example.com
backend: pool
poolAddress: "3333333333333333333333333333333333333333333333333333333333333333"
bonusStakeTokens: 100000
`
	invalidYaml = `
---
cluster: mainnet
dryRun: definitely
`
)

func Test_BalancerConfig(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		t.Run("Should create a new balancer config from a json string", func(t *testing.T) {
			c, err := NewBalancerConfigFromJsonBytes([]byte(validJson))
			assert.Nil(t, err)
			assert.NotNil(t, c)
			assert.Equal(t, "mainnet", c.Cluster)
			// Fields the document omits keep their defaults.
			assert.True(t, c.DryRun)
			assert.Equal(t, 10, c.RpcRequestsPerSec)
		})
		t.Run("Should fail to create a new balancer config from an invalid json string", func(t *testing.T) {
			c, err := NewBalancerConfigFromJsonBytes([]byte(invalidJson))
			assert.NotNil(t, err)
			assert.Nil(t, c)
		})
	})
	t.Run("YAML", func(t *testing.T) {
		t.Run("Should create a new balancer config from a yaml string", func(t *testing.T) {
			c, err := NewBalancerConfigFromYamlBytes([]byte(validYaml))
			assert.Nil(t, err)
			assert.NotNil(t, c)
			assert.Equal(t, "pool", c.Backend)
			assert.Equal(t, uint64(100_000), c.BonusStakeTokens)
		})
		t.Run("Should fail to create a new balancer config from an invalid yaml string", func(t *testing.T) {
			c, err := NewBalancerConfigFromYamlBytes([]byte(invalidYaml))
			assert.NotNil(t, err)
			assert.Nil(t, c)
		})
	})
}

func validReserveConfig() *BalancerConfig {
	c := DefaultBalancerConfig()
	c.RpcUrl = "https://api.testnet.example.com"
	c.SourceAccount = "1111111111111111111111111111111111111111111111111111111111111111"
	c.ValidatorList = []string{"2222222222222222222222222222222222222222222222222222222222222222"}
	return c
}

func Test_BalancerConfigValidation(t *testing.T) {
	t.Run("Should accept a complete reserve dry-run config", func(t *testing.T) {
		assert.Nil(t, validReserveConfig().Validate())
	})
	t.Run("Should require an rpc url", func(t *testing.T) {
		c := validReserveConfig()
		c.RpcUrl = ""
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "rpcUrl")
	})
	t.Run("Should reject an unsupported cluster", func(t *testing.T) {
		c := validReserveConfig()
		c.Cluster = "devnet-classic"
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "unsupported cluster")
	})
	t.Run("Should reject an unsupported backend", func(t *testing.T) {
		c := validReserveConfig()
		c.Backend = "lamport"
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})
	t.Run("Should require a source account for the reserve backend", func(t *testing.T) {
		c := validReserveConfig()
		c.SourceAccount = ""
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "sourceAccount")
	})
	t.Run("Should require a pool address for the pool backend", func(t *testing.T) {
		c := validReserveConfig()
		c.Backend = "pool"
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "poolAddress")
	})
	t.Run("Should require the bonus tier to cover the baseline tier", func(t *testing.T) {
		c := validReserveConfig()
		c.BonusStakeTokens = c.BaselineStakeTokens - 1
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "bonusStakeTokens")
	})
	t.Run("Should require enrollment input for the reserve backend", func(t *testing.T) {
		c := validReserveConfig()
		c.ValidatorList = nil
		c.RegistryProgram = ""
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "validatorList")
	})
	t.Run("Should require a keystore and a notifier for live runs", func(t *testing.T) {
		c := validReserveConfig()
		c.DryRun = false
		err := c.Validate()
		assert.NotNil(t, err)
		assert.Contains(t, err.Error(), "authorityKeystore")
		assert.Contains(t, err.Error(), "a notifier must be active for live runs")

		c.AuthorityKeystore = "/var/lib/ballast/authority.json"
		c.WebhookUrl = "https://hooks.example.com/services/T000/B000"
		assert.Nil(t, c.Validate())
	})
	t.Run("Should require attribution settings when concentration is bounded", func(t *testing.T) {
		c := validReserveConfig()
		c.MaxInfraConcentration = 25
		c.DataCenterBaseUrl = ""
		err := c.Validate()
		assert.NotNil(t, err)
		assert.True(t, strings.Contains(err.Error(), "datacenterBaseUrl"))
	})
}
