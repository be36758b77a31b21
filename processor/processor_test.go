package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gachasync/config"
	"gachasync/gacha"
	"gachasync/internal/channel"
	"gachasync/models"
	"gachasync/reader/endfield"
	"gachasync/store"
)

type fakeFetcher struct {
	mu          sync.Mutex
	char        map[string][]models.PullRecord
	weaponPools []models.WeaponPool
	weapon      map[string][]models.PullRecord
	weaponErr   error
	authGate    chan struct{}
	authEntered chan struct{}
	role        *models.AccountRole
	uid         string
	contentIDs  []string
	noUp6       map[string]bool
	charGate    chan struct{}
	charEntered chan struct{}
}

func (f *fakeFetcher) Authenticate(_ context.Context, acc models.Account) (endfield.Session, error) {
	if f.authEntered != nil {
		f.authEntered <- struct{}{}
	}
	if f.authGate != nil {
		<-f.authGate
	}
	s := endfield.Session{Provider: models.ProviderHypergryph, U8Token: "u8", ServerID: "1", UID: acc.UID}
	if s.UID == "" {
		s.UID = f.uid
	}
	if f.role != nil {
		s.Role = f.role
	}
	return s, nil
}

func (f *fakeFetcher) FetchCharRecords(_ context.Context, _ endfield.Session, poolType string, onPage endfield.PageFunc) ([]models.PullRecord, error) {
	if f.charEntered != nil {
		select {
		case f.charEntered <- struct{}{}:
		default:
		}
	}
	if f.charGate != nil {
		<-f.charGate
	}
	records := f.char[poolType]
	if onPage != nil && len(records) > 0 {
		onPage(1, len(records))
	}
	return records, nil
}

func (f *fakeFetcher) FetchWeaponPools(context.Context, endfield.Session) ([]models.WeaponPool, error) {
	return f.weaponPools, nil
}

func (f *fakeFetcher) FetchWeaponRecords(_ context.Context, _ endfield.Session, poolID string, _ endfield.PageFunc) ([]models.PullRecord, error) {
	if f.weaponErr != nil {
		return nil, f.weaponErr
	}
	return f.weapon[poolID], nil
}

func (f *fakeFetcher) FetchPoolContent(_ context.Context, _ endfield.Session, poolID string, kind models.RecordKind) (models.PoolInfoEntry, error) {
	f.mu.Lock()
	f.contentIDs = append(f.contentIDs, poolID)
	f.mu.Unlock()
	entry := models.PoolInfoEntry{PoolID: poolID, PoolName: "pool " + poolID, Up6ID: "up_" + poolID}
	if f.noUp6[poolID] {
		entry.Up6ID = ""
	}
	return entry, nil
}

type countingStore struct {
	store.HistoryStore
	mu    sync.Mutex
	saves int
}

func (c *countingStore) Save(ctx context.Context, userKey string, kind models.RecordKind, h models.PoolHistory) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.HistoryStore.Save(ctx, userKey, kind, h)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

type harness struct {
	proc     *SyncProcessor
	fetcher  *fakeFetcher
	history  *countingStore
	accounts *store.AccountStore
	pools    *store.PoolInfoCache
	channels *channel.Channels
}

func newHarness(t *testing.T, f *fakeFetcher) *harness {
	t.Helper()
	ctx := context.Background()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	accounts := store.NewAccountStore(fs)
	require.NoError(t, accounts.Upsert(ctx, models.Account{UID: "100", Token: "tok", Provider: models.ProviderHypergryph}))
	pools, err := store.NewPoolInfoCache(fs)
	require.NoError(t, err)

	ch := channel.NewChannels(4, 8)
	t.Cleanup(ch.Close)
	history := &countingStore{HistoryStore: fs}
	cfg := config.ProcessorConfig{QueueSize: 4, Workers: 1}
	return &harness{
		proc:     NewSyncProcessor(cfg, ch, f, history, accounts, pools),
		fetcher:  f,
		history:  history,
		accounts: accounts,
		pools:    pools,
		channels: ch,
	}
}

func pull(seq string, rarity int, poolID string) models.PullRecord {
	return models.PullRecord{SeqID: seq, ItemID: "item_" + seq, ItemName: "Item " + seq, Rarity: rarity, PoolID: poolID}
}

func sampleFetcher() *fakeFetcher {
	return &fakeFetcher{
		char: map[string][]models.PullRecord{
			gacha.SpecialPoolKey:  {pull("5", 6, "special_1"), pull("4", 4, "special_1")},
			gacha.StandardPoolKey: {pull("3", 5, "standard")},
		},
		weaponPools: []models.WeaponPool{{PoolID: "weponbox_1", PoolName: "Edge"}},
		weapon: map[string][]models.PullRecord{
			"weponbox_1": {pull("2", 4, "weponbox_1")},
		},
	}
}

func TestSyncSavesOnlyWhenRecordsAreAdded(t *testing.T) {
	h := newHarness(t, sampleFetcher())
	ctx := context.Background()

	res, err := h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 3, res.CharAdded)
	assert.Equal(t, 1, res.WeaponAdded)
	assert.Equal(t, 2, h.history.count())

	char, err := h.history.Load(ctx, "100", models.KindChar)
	require.NoError(t, err)
	assert.Len(t, char[gacha.SpecialPoolKey], 2)

	require.Len(t, h.channels.Archive, 2)
	batch := <-h.channels.Archive
	assert.Equal(t, models.KindChar, batch.Kind)
	assert.Equal(t, 3, batch.RecordCount)

	res, err = h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added())
	assert.Equal(t, 2, h.history.count(), "an empty delta must not rewrite history")

	h.fetcher.weapon["weponbox_1"] = append([]models.PullRecord{pull("6", 6, "weponbox_1")}, h.fetcher.weapon["weponbox_1"]...)
	res, err = h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 1, res.WeaponAdded)
	assert.Equal(t, 3, h.history.count(), "only the changed kind is saved")
}

func TestSyncRejectsConcurrentSyncOfSameAccount(t *testing.T) {
	f := sampleFetcher()
	f.authGate = make(chan struct{})
	f.authEntered = make(chan struct{}, 1)
	h := newHarness(t, f)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.proc.Sync(ctx, "100")
		done <- err
	}()
	<-f.authEntered
	assert.True(t, h.proc.InFlight("100"))

	_, err := h.proc.Sync(ctx, "100")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = h.proc.Enqueue(ctx, "100", "manual")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(f.authGate)
	require.NoError(t, <-done)
	assert.False(t, h.proc.InFlight("100"))
	assert.EqualValues(t, 2, h.proc.Stats().SyncsRejected)
}

func TestSyncFetchErrorAbortsBeforeSave(t *testing.T) {
	f := sampleFetcher()
	f.weaponErr = endfield.ErrBadResponse
	h := newHarness(t, f)

	_, err := h.proc.Sync(context.Background(), "100")
	require.Error(t, err)
	assert.True(t, errors.Is(err, endfield.ErrBadResponse))
	assert.Equal(t, 0, h.history.count())
	assert.EqualValues(t, 1, h.proc.Stats().SyncsFailed)

	var last models.SyncProgress
	for len(h.channels.Progress) > 0 {
		last = <-h.channels.Progress
	}
	assert.Equal(t, models.StageFailed, last.Stage)
}

func TestEnqueueUnknownAccount(t *testing.T) {
	h := newHarness(t, sampleFetcher())
	_, err := h.proc.Enqueue(context.Background(), "999", "manual")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestWorkerRunsQueuedSync(t *testing.T) {
	h := newHarness(t, sampleFetcher())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.proc.Start(ctx))
	assert.Error(t, h.proc.Start(ctx))

	req, err := h.proc.Enqueue(ctx, "100", "schedule")
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)

	require.Eventually(t, func() bool {
		_, ok := h.proc.LastResult("100")
		return ok && !h.proc.InFlight("100")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	h.proc.Stop()
	res, _ := h.proc.LastResult("100")
	assert.Equal(t, req.ID, res.SyncID)
	assert.Equal(t, 4, res.Added())
}

func TestSyncStoresResolvedRole(t *testing.T) {
	f := sampleFetcher()
	f.role = &models.AccountRole{RoleID: "7", ServerID: "1", NickName: "Endmin"}
	h := newHarness(t, f)
	ctx := context.Background()

	res, err := h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "100_7", res.AccountKey)

	acc, err := h.accounts.Get(ctx, "100_7")
	require.NoError(t, err)
	assert.Equal(t, "Endmin", acc.Role.NickName)

	char, err := h.history.Load(ctx, "100_7", models.KindChar)
	require.NoError(t, err)
	assert.Equal(t, 3, char.Count())
}

func TestSyncRefreshesMissingPoolInfo(t *testing.T) {
	h := newHarness(t, sampleFetcher())
	ctx := context.Background()

	_, err := h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"special_1", "weponbox_1"}, h.fetcher.contentIDs)
	assert.False(t, h.pools.NeedsFetch(ctx, "special_1", models.KindChar))

	_, err = h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.Len(t, h.fetcher.contentIDs, 2, "resolved pools are not fetched again")
}

func TestSyncSkipsKnownWeaponPoolsWithoutFeaturedItem(t *testing.T) {
	f := sampleFetcher()
	f.weaponPools = append(f.weaponPools, models.WeaponPool{PoolID: "weponbox_constant", PoolName: "Arsenal"})
	f.noUp6 = map[string]bool{"weponbox_constant": true, "special_1": true}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"special_1", "weponbox_1", "weponbox_constant"}, f.contentIDs)

	_, err = h.proc.Sync(ctx, "100")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"special_1", "weponbox_1", "weponbox_constant", "special_1"}, f.contentIDs,
		"only the banner without a featured item is fetched again")
}

func TestSyncReservesResolvedKey(t *testing.T) {
	f := sampleFetcher()
	f.uid = "200"
	f.role = &models.AccountRole{RoleID: "9", ServerID: "1"}
	f.charGate = make(chan struct{})
	f.charEntered = make(chan struct{}, 1)
	h := newHarness(t, f)
	ctx := context.Background()
	require.NoError(t, h.accounts.Upsert(ctx, models.Account{
		Key:      "url_1a2b",
		Provider: models.ProviderHypergryph,
		Source:   models.SourceURL,
		GachaURL: "https://ef-webview.hypergryph.com/page/gacha_char?u8_token=abc",
	}))

	done := make(chan error, 1)
	go func() {
		_, err := h.proc.Sync(ctx, "url_1a2b")
		done <- err
	}()
	<-f.charEntered

	// The account now lives under its resolved key while the first sync runs.
	_, err := h.accounts.Get(ctx, "200_9")
	require.NoError(t, err)
	assert.True(t, h.proc.InFlight("url_1a2b"))
	assert.True(t, h.proc.InFlight("200_9"))

	_, err = h.proc.Enqueue(ctx, "200_9", "manual")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = h.proc.Sync(ctx, "200_9")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(f.charGate)
	require.NoError(t, <-done)
	assert.False(t, h.proc.InFlight("url_1a2b"))
	assert.False(t, h.proc.InFlight("200_9"))

	res, err := h.proc.Sync(ctx, "200_9")
	require.NoError(t, err)
	assert.Equal(t, "200_9", res.AccountKey)
}

func TestSyncRejectsWhenResolvedKeyIsBusy(t *testing.T) {
	f := sampleFetcher()
	f.role = &models.AccountRole{RoleID: "7", ServerID: "1"}
	h := newHarness(t, f)
	ctx := context.Background()

	require.True(t, h.proc.acquire("100_7", "other"))
	_, err := h.proc.Sync(ctx, "100")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, 0, h.history.count())
	_, err = h.accounts.Get(ctx, "100")
	assert.NoError(t, err, "account is not re-keyed while the resolved key is busy")
	assert.True(t, h.proc.InFlight("100_7"), "the other reservation is left alone")
	assert.False(t, h.proc.InFlight("100"))
}

func TestNewRecords(t *testing.T) {
	stored := models.PoolHistory{"a": {pull("2", 4, "a")}}
	merged := models.PoolHistory{"a": {pull("3", 4, "a"), pull("2", 4, "a")}, "b": {pull("1", 4, "b")}}
	got := newRecords(stored, merged)
	assert.Equal(t, 2, got.Count())
	assert.Equal(t, "3", got["a"][0].SeqID)
}
