package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnScope/internal/model"
)

func testRecord(hash string, index uint64) model.BurnRecord {
	return model.NewBurnRecord(model.RawTransfer{
		TxHash:      common.Hash{hash[0]},
		LogIndex:    index,
		BlockNumber: 100,
		RawAmount:   big.NewInt(1000000000000000000),
		Timestamp:   1700000000,
	}, 18)
}

func openTestStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := OpenFileStore(filepath.Join(dir, "events.jsonl"), filepath.Join(dir, "checkpoint.json"))
	require.NoError(t, err)
	return store
}

func TestFileStoreRecordIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	outcome, err := store.RecordIfAbsent(ctx, testRecord("a", 0))
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)

	outcome, err = store.RecordIfAbsent(ctx, testRecord("a", 0))
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)

	outcome, err = store.RecordIfAbsent(ctx, testRecord("a", 1))
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)
}

func TestFileStoreDedupeSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := openTestStore(t, dir)
	_, err := store.RecordIfAbsent(ctx, testRecord("a", 0))
	require.NoError(t, err)

	reopened := openTestStore(t, dir)
	outcome, err := reopened.RecordIfAbsent(ctx, testRecord("a", 0))
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)
}

func TestFileStoreCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())
	token := "0x1111111111111111111111111111111111111111"

	_, ok, err := store.Checkpoint(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetCheckpoint(ctx, token, 100))
	cp, ok, err := store.Checkpoint(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), cp)

	// Monotonic: a replayed lower height must not win.
	require.NoError(t, store.SetCheckpoint(ctx, token, 50))
	cp, _, err = store.Checkpoint(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cp)

	require.NoError(t, store.SetCheckpoint(ctx, token, 150))
	cp, _, err = store.Checkpoint(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), cp)
}

func TestFileStoreCheckpointCaseInsensitiveToken(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	require.NoError(t, store.SetCheckpoint(ctx, "0xAAAA000000000000000000000000000000000000", 7))
	cp, ok, err := store.Checkpoint(ctx, "0xaaaa000000000000000000000000000000000000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), cp)
}
