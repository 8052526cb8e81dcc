package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(n byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = n
	}
	return id
}

func TestParseConcentrationPolicy(t *testing.T) {
	t.Run("warn keyword", func(t *testing.T) {
		p, err := ParseConcentrationPolicy("warn", 25)
		require.NoError(t, err)
		assert.Equal(t, ConcentrationWarnAll, p.Mode)
		assert.Equal(t, 25.0, p.MaxConcentration)
	})

	t.Run("destake keyword is case insensitive", func(t *testing.T) {
		p, err := ParseConcentrationPolicy("DESTAKE", 25)
		require.NoError(t, err)
		assert.Equal(t, ConcentrationDestakeAll, p.Mode)
	})

	t.Run("yaml list of identities", func(t *testing.T) {
		listed := testIdentity(1)
		other := testIdentity(2)
		path := filepath.Join(t.TempDir(), "destake-list.yaml")
		content := fmt.Sprintf("- %s\n- %s\n- not-an-identity\n", listed, other)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		p, err := ParseConcentrationPolicy(path, 25)
		require.NoError(t, err)
		assert.Equal(t, ConcentrationDestakeListed, p.Mode)
		assert.Len(t, p.Listed, 2)
		assert.True(t, p.Listed[listed])
		assert.True(t, p.Listed[other])
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := ParseConcentrationPolicy("/nonexistent/destake-list.yaml", 25)
		require.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "destake-list.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o600))
		_, err := ParseConcentrationPolicy(path, 25)
		require.Error(t, err)
	})
}

func TestConcentrationPolicy_Evaluate(t *testing.T) {
	validator := testIdentity(7)

	t.Run("within bounds has no opinion", func(t *testing.T) {
		p := &ConcentrationPolicy{Mode: ConcentrationDestakeAll, MaxConcentration: 25}
		_, ok := p.Evaluate(validator, 25)
		assert.False(t, ok)
	})

	t.Run("warn mode never destakes", func(t *testing.T) {
		p := &ConcentrationPolicy{Mode: ConcentrationWarnAll, MaxConcentration: 25}
		verdict, ok := p.Evaluate(validator, 30.55)
		require.True(t, ok)
		assert.False(t, verdict.Destake)
		assert.Contains(t, verdict.Memo, "infrastructure concentration 30.6% is too high")
		assert.Contains(t, verdict.Memo, "Max concentration is 25%")
		assert.Contains(t, verdict.Memo, "No stake removed")
	})

	t.Run("destake mode destakes every affected validator", func(t *testing.T) {
		p := &ConcentrationPolicy{Mode: ConcentrationDestakeAll, MaxConcentration: 25}
		verdict, ok := p.Evaluate(validator, 40)
		require.True(t, ok)
		assert.True(t, verdict.Destake)
		assert.Contains(t, verdict.Memo, "Removed stake")
	})

	t.Run("listed mode destakes only listed validators", func(t *testing.T) {
		listed := testIdentity(1)
		p := &ConcentrationPolicy{
			Mode:             ConcentrationDestakeListed,
			Listed:           map[types.Identity]bool{listed: true},
			MaxConcentration: 25,
		}

		verdict, ok := p.Evaluate(listed, 40)
		require.True(t, ok)
		assert.True(t, verdict.Destake)

		verdict, ok = p.Evaluate(validator, 40)
		require.True(t, ok)
		assert.False(t, verdict.Destake)
		assert.Contains(t, verdict.Memo, "Consider finding a new data center")
	})
}

func TestCommissionPolicy_Evaluate(t *testing.T) {
	validator := testIdentity(3)
	p := CommissionPolicy{MaxCommission: 10}

	t.Run("at or below ceiling has no opinion", func(t *testing.T) {
		_, ok := p.Evaluate(validator, 10)
		assert.False(t, ok)
		_, ok = p.Evaluate(validator, 0)
		assert.False(t, ok)
	})

	t.Run("above ceiling destakes", func(t *testing.T) {
		verdict, ok := p.Evaluate(validator, 11)
		require.True(t, ok)
		assert.True(t, verdict.Destake)
		assert.Contains(t, verdict.Memo, "11% commission is too high")
	})

	t.Run("default ceiling never triggers", func(t *testing.T) {
		wide := CommissionPolicy{MaxCommission: 100}
		_, ok := wide.Evaluate(validator, 100)
		assert.False(t, ok)
	})
}

func TestParseVersionPolicy(t *testing.T) {
	t.Run("empty version disables the policy", func(t *testing.T) {
		p, err := ParseVersionPolicy("", 10)
		require.NoError(t, err)
		assert.False(t, p.Enabled())
		assert.False(t, p.Stale("0.0.1"))
	})

	t.Run("invalid version fails", func(t *testing.T) {
		_, err := ParseVersionPolicy("not-semver", 10)
		require.Error(t, err)
	})
}

func TestVersionPolicy_Stale(t *testing.T) {
	p, err := ParseVersionPolicy("1.9.2", 10)
	require.NoError(t, err)

	assert.True(t, p.Stale("1.9.1"))
	assert.True(t, p.Stale("1.8.17"))
	assert.False(t, p.Stale("1.9.2"))
	assert.False(t, p.Stale("1.10.0"))
	assert.False(t, p.Stale(""))
	assert.False(t, p.Stale("unknown"))
}

func TestVersionPolicy_StaleIdentities(t *testing.T) {
	p, err := ParseVersionPolicy("1.9.2", 10)
	require.NoError(t, err)

	old := testIdentity(1)
	current := testIdentity(2)
	silent := testIdentity(3)
	stale := p.StaleIdentities(map[types.Identity]string{
		old:     "1.9.0",
		current: "1.9.2",
		silent:  "",
	})
	assert.Len(t, stale, 1)
	assert.True(t, stale[old])
}

func TestVersionPolicy_OverRepresented(t *testing.T) {
	p := &VersionPolicy{MaxStalePercentage: 10}

	// 1 of 10 is exactly 10%, not over.
	assert.False(t, p.OverRepresented(1, 10))
	assert.True(t, p.OverRepresented(2, 10))
	assert.False(t, p.OverRepresented(0, 10))
	assert.True(t, p.OverRepresented(1, 0))
}
