package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiresAt_Formats(t *testing.T) {
	ms := time.Now().Add(time.Hour).UnixMilli()

	cases := []struct {
		name  string
		value any
	}{
		{"epoch ms float", float64(ms)},
		{"epoch ms int64", ms},
		{"numeric string", "1700000000000"},
		{"rfc3339", time.UnixMilli(ms).UTC().Format(time.RFC3339)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bag := New(map[string]any{FieldExpiresAt: tc.value})
			_, ok := bag.ExpiresAt()
			assert.True(t, ok)
		})
	}

	bag := New(map[string]any{FieldExpiresAt: "not-a-date"})
	_, ok := bag.ExpiresAt()
	assert.False(t, ok)

	_, ok = New(nil).ExpiresAt()
	assert.False(t, ok)
}

func TestSnapshot_StripsSystemFields(t *testing.T) {
	bag := New(map[string]any{
		FieldAccessToken:     "A",
		SystemOrganizationID: "org-1",
		SystemConnectionID:   "conn-1",
		SystemUserID:         "user-1",
	})

	snap := bag.Snapshot()
	assert.Equal(t, map[string]any{FieldAccessToken: "A"}, snap)
	assert.Equal(t, "org-1", bag.OrganizationID())
	assert.Equal(t, "conn-1", bag.ConnectionID())
}

func TestNetworkAllowlist_FromUntypedMap(t *testing.T) {
	bag := New(map[string]any{
		SystemNetworkAllowlist: map[string]any{
			"domains":  []any{"*.example.com"},
			"ipRanges": []any{"10.0.0.0/8"},
		},
	})

	rules := bag.NetworkAllowlist()
	assert.Equal(t, []string{"*.example.com"}, rules.Domains)
	assert.Equal(t, []string{"10.0.0.0/8"}, rules.IPRanges)
	assert.True(t, New(nil).NetworkAllowlist().Empty())
}

func TestSetTokens_And_NotifyRefreshed(t *testing.T) {
	bag := New(map[string]any{
		FieldAccessToken:  "old",
		FieldRefreshToken: "R",
	})

	var persisted map[string]any
	bag.SetRefreshCallback(func(ctx context.Context, updated map[string]any) error {
		persisted = updated
		return nil
	})

	exp := time.Now().Add(time.Hour)
	bag.SetTokens("new", "", exp)
	require.NoError(t, bag.NotifyRefreshed(context.Background()))

	assert.Equal(t, "new", persisted[FieldAccessToken])
	// Empty refresh token keeps the previous one.
	assert.Equal(t, "R", persisted[FieldRefreshToken])
	got, ok := bag.ExpiresAt()
	require.True(t, ok)
	assert.WithinDuration(t, exp, got, time.Second)
}
