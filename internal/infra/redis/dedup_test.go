package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "dedup:fid:7:0xabc", DedupKey("fid:7", "0xabc"))
}

// Runs against a live server when DROPWATCH_TEST_REDIS_URL is set.
func TestDedupLedger_Live(t *testing.T) {
	url := os.Getenv("DROPWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DROPWATCH_TEST_REDIS_URL not set")
	}

	client, err := NewClient(Config{URL: url})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	ledger := NewDedupLedger(client, time.Minute)
	channel := "test:" + uuid.NewString()

	ok, err := ledger.ShouldDispatch(ctx, channel, "0x1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.ShouldDispatch(ctx, channel, "0x1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.Release(ctx, channel, "0x1"))
	ok, err = ledger.ShouldDispatch(ctx, channel, "0x1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ledger.RecordDispatched(ctx, channel, "0x1"))
	require.NoError(t, ledger.Release(ctx, channel, "0x1"))
	ok, err = ledger.ShouldDispatch(ctx, channel, "0x1")
	require.NoError(t, err)
	assert.False(t, ok, "confirmed pair survives release")

	require.NoError(t, client.Health(ctx))
}
