package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gachasync/models"
)

func sampleHistory() models.PoolHistory {
	return models.PoolHistory{
		"E_CharacterGachaPoolType_Special": {
			{SeqID: "12", ItemID: "chr_1", ItemName: "Laevatain", Rarity: 6, PoolID: "special_1"},
			{SeqID: "11", ItemID: "chr_2", ItemName: "Perlica", Rarity: 4, PoolID: "special_1", IsFree: true},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(ctx, "100_7", models.KindChar, sampleHistory()))
	weapons := models.PoolHistory{"weponbox_1": {{SeqID: "3", ItemID: "wpn_1", Rarity: 5}}}
	require.NoError(t, fs.Save(ctx, "100_7", models.KindWeapon, weapons))

	got, err := fs.Load(ctx, "100_7", models.KindChar)
	require.NoError(t, err)
	assert.Equal(t, sampleHistory(), got, "saving weapons keeps the char history")

	got, err = fs.Load(ctx, "100_7", models.KindWeapon)
	require.NoError(t, err)
	assert.Equal(t, weapons, got)

	_, err = os.Stat(filepath.Join(fs.Dir(), "gachaData", "100_7.json"))
	assert.NoError(t, err)
}

func TestFileStoreMissingUserIsEmpty(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := fs.Load(context.Background(), "404", models.KindWeapon)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../etc", "a/b", `a\b`} {
		_, err := fs.Load(ctx, key, models.KindChar)
		assert.Error(t, err, "key %q", key)
	}
	_, err = fs.Load(ctx, "1", models.RecordKind("armor"))
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, fs.Save(ctx, "1", models.KindChar, sampleHistory()))
	}
	entries, err := os.ReadDir(filepath.Join(fs.Dir(), "gachaData"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.json", entries[0].Name())
}

func TestFileStoreCorruptDocument(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir(), "gachaData", "9.json"), []byte("{"), 0o644))

	_, err = fs.Load(context.Background(), "9", models.KindChar)
	assert.Error(t, err)
}

func TestFileStorePoolInfoAndAccounts(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	pools, err := fs.LoadPoolInfo(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)

	want := []models.PoolInfoEntry{{PoolID: "special_1", PoolName: "Scorching Heart", Up6ID: "chr_16"}}
	require.NoError(t, fs.SavePoolInfo(ctx, want))
	pools, err = fs.LoadPoolInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, pools)

	require.NoError(t, fs.PutPoolInfo(ctx, models.PoolInfoEntry{PoolID: "joint_1", Up6ID: "chr_2"}))
	require.NoError(t, fs.PutPoolInfo(ctx, models.PoolInfoEntry{PoolID: "special_1", PoolName: "Renamed", Up6ID: "chr_16"}))
	pools, err = fs.LoadPoolInfo(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2, "put replaces by pool id")
	assert.Equal(t, "joint_1", pools[0].PoolID)

	entry, ok, err := fs.GetPoolInfo(ctx, "special_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Renamed", entry.PoolName)
	_, ok, err = fs.GetPoolInfo(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	accounts := []models.Account{{UID: "1", Token: "t", Provider: models.ProviderGryphline}}
	require.NoError(t, fs.SaveAccounts(ctx, accounts))
	got, err := fs.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts, got)

	raw, err := os.ReadFile(filepath.Join(fs.Dir(), "config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"users"`)
}
