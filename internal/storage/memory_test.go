package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	_ MessageController = (*Memory)(nil)
	_ QueueController   = (*Memory)(nil)
	_ ClaimController   = (*MemoryClaimController)(nil)
)

func TestMemory_PostAndClaim(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Create(ctx, "q1", "proj"))

	_, err := mem.Post(ctx, "q1", []Message{{Body: []byte("a")}, {Body: []byte("bb")}}, "proj", "client-1")
	require.NoError(t, err)

	meta, err := mem.GetMetadata(ctx, "q1", "proj")
	require.NoError(t, err)

	cid, msgs, err := mem.Claims().Create(ctx, "q1", meta, "proj", 5)
	require.NoError(t, err)
	require.NotEmpty(t, cid)
	require.Len(t, msgs, 2)

	require.NoError(t, mem.ConsumeDelete(ctx, "q1", msgs[0].Handle, "proj"))
	require.ErrorIs(t, mem.ConsumeDelete(ctx, "q1", msgs[0].Handle, "proj"), ErrMessageClaimedExpired)
}

func TestMemory_GetMetadataMissingQueue(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	_, err := mem.GetMetadata(ctx, "missing", "proj")
	require.Error(t, err)
}

func TestMemory_BulkConsumeDelete(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Create(ctx, "q1", "proj"))
	_, err := mem.Post(ctx, "q1", []Message{{Body: []byte("a")}}, "proj", "c1")
	require.NoError(t, err)

	meta, _ := mem.GetMetadata(ctx, "q1", "proj")
	_, msgs, err := mem.Claims().Create(ctx, "q1", meta, "proj", 10)
	require.NoError(t, err)

	deleted, err := mem.BulkConsumeDelete(ctx, "q1", []string{msgs[0].Handle, "unknown"}, "proj")
	require.NoError(t, err)
	require.Equal(t, []string{msgs[0].Handle}, deleted)
}
