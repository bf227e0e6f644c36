package venue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

type nopSource struct{}

func (nopSource) FetchLiquidity(context.Context, string, string, float64) (*domain.LiquiditySource, error) {
	return nil, nil
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orca", nopSource{}, domain.VenueConfig{Kind: domain.VenueAMM}))
	require.NoError(t, r.Register("phoenix", nopSource{}, domain.VenueConfig{Kind: domain.VenueCLOB}))
	require.NoError(t, r.Register("desk", nopSource{}, domain.VenueConfig{Kind: domain.VenueRFQ}))

	assert.Equal(t, []string{"desk", "orca", "phoenix"}, r.Names())

	all := r.Select(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "desk", all[0].Name)

	some := r.Select([]string{"phoenix", "unknown", "orca", "phoenix"})
	require.Len(t, some, 2)
	assert.Equal(t, "orca", some[0].Name)
	assert.Equal(t, "phoenix", some[1].Name)

	assert.Equal(t, domain.VenueCLOB, r.Policy("phoenix").Kind)
	assert.Equal(t, domain.VenueConfig{}, r.Policy("missing"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orca", nopSource{}, domain.VenueConfig{}))
	assert.Error(t, r.Register("orca", nopSource{}, domain.VenueConfig{}))
	assert.Error(t, r.Register("", nopSource{}, domain.VenueConfig{}))
	assert.Error(t, r.Register("x", nil, domain.VenueConfig{}))
}
