package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIdentity(t *testing.T) {
	d, err := Parse([]byte(`
entities:
  ent-1:
    verified: true
    level: enhanced
    risk_factors: [pep]
    verified_at: 2025-01-10T00:00:00Z
`))
	require.NoError(t, err)

	st, err := d.VerifyIdentity(context.Background(), "ent-1")
	require.NoError(t, err)
	assert.True(t, st.Verified)
	assert.Equal(t, "enhanced", st.Level)
	assert.Equal(t, []string{"pep"}, st.RiskFactors)

	st, err = d.VerifyIdentity(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, st.Verified)
}
