package tokenvault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/logger"
)

func testVault(t *testing.T, ttlSeconds, reuseSeconds int) *Vault {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return New(config.VaultConfig{
		JWTSecret:      "test-secret",
		TokenTTL:       ttlSeconds,
		ReuseThreshold: reuseSeconds,
	}, log)
}

func TestGetOrCreateMintsAndCaches(t *testing.T) {
	v := testVault(t, 3600, 600)

	token1, expiry1, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)
	require.NotEmpty(t, token1)
	assert.True(t, expiry1.After(time.Now()))

	// Well inside the reuse window: the exact same token comes back.
	token2, expiry2, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)
	assert.Equal(t, token1, token2)
	assert.Equal(t, expiry1, expiry2)
	assert.Equal(t, 1, v.Len())
}

func TestGetOrCreateRemintsNearExpiry(t *testing.T) {
	// TTL below the reuse threshold forces every call to re-mint.
	v := testVault(t, 60, 3600)

	token1, _, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	token2, _, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2, "a token inside the re-mint window must be replaced")
	assert.Equal(t, 1, v.Len(), "re-mint overwrites, never duplicates")
}

func TestSessionsAreIndependentPerThread(t *testing.T) {
	v := testVault(t, 3600, 600)

	tokenA, _, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)
	tokenB, _, err := v.GetOrCreate("thread-b", "tenant-1", "team-1")
	require.NoError(t, err)

	assert.NotEqual(t, tokenA, tokenB)
	assert.Equal(t, 2, v.Len())
}

func TestVerifyClaims(t *testing.T) {
	v := testVault(t, 3600, 600)

	token, _, err := v.GetOrCreate("thread-a", "tenant-1", "team-9")
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "thread-a", claims.ThreadID)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "team-9", claims.TeamID)
	assert.Equal(t, "investigation-thread-a", claims.SandboxName)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	v := testVault(t, 3600, 600)
	other := testVault(t, 3600, 600)
	other.secret = []byte("different-secret")

	token, _, err := other.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestSessionSurvivesIndependentOfSandbox(t *testing.T) {
	// The vault has no notion of sandbox lifetime: the session stays
	// retrievable no matter what happens to the container.
	v := testVault(t, 3600, 600)

	token, _, err := v.GetOrCreate("thread-a", "tenant-1", "team-1")
	require.NoError(t, err)

	sess, ok := v.Get("thread-a")
	require.True(t, ok)
	assert.Equal(t, token, sess.JWT)
	assert.Equal(t, "tenant-1", sess.TenantID)
}
