package endfield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gachasync/config"
	"gachasync/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Reader
	cfg.EndpointOverride = srv.URL
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.BurstSize = 100
	cfg.Timeout = 5 * time.Second

	c := NewClient(cfg)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func charRow(seq string, rarity int) map[string]interface{} {
	return map[string]interface{}{
		"charId": "chr_" + seq, "charName": "Char " + seq, "gachaTs": "1700000000000",
		"poolId": "special_1", "poolName": "Banner", "rarity": rarity, "seqId": seq,
	}
}

func TestFetchCharRecordsFollowsCursor(t *testing.T) {
	var mu sync.Mutex
	var cursors []string
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/char", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		cursors = append(cursors, q.Get("seq_id"))
		mu.Unlock()
		assert.Equal(t, "E_CharacterGachaPoolType_Special", q.Get("pool_type"))
		assert.Equal(t, "tok", q.Get("token"))
		assert.Equal(t, "1", q.Get("server_id"))

		switch q.Get("seq_id") {
		case "":
			writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{
				"list": []interface{}{charRow("30", 4), charRow("29", 6)}, "hasMore": true}})
		case "29":
			writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{
				"list": []interface{}{charRow("28", 5), charRow("", 4), charRow("27", 4)}, "hasMore": false}})
		default:
			t.Errorf("unexpected cursor %q", q.Get("seq_id"))
		}
	})
	c := newTestClient(t, mux)

	var pages []int
	recs, err := c.FetchCharRecords(context.Background(), Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"},
		"E_CharacterGachaPoolType_Special", func(page, count int) { pages = append(pages, count) })
	require.NoError(t, err)

	assert.Equal(t, []string{"", "29"}, cursors)
	assert.Equal(t, []int{2, 3}, pages)
	require.Len(t, recs, 4, "rows without seqId are dropped")
	assert.Equal(t, "30", recs[0].SeqID)
	assert.Equal(t, "27", recs[3].SeqID)
}

func TestFetchRecordsStopsOnErrorCodeAndEmptyPage(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/weapon", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pool_id") == "empty" {
			writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{"list": []interface{}{}, "hasMore": true}})
			return
		}
		writeJSON(w, map[string]interface{}{"code": 10001, "msg": "token expired"})
	})
	c := newTestClient(t, mux)
	s := Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"}

	recs, err := c.FetchWeaponRecords(context.Background(), s, "wpn_pool", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = c.FetchWeaponRecords(context.Background(), s, "empty", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 2, calls)
}

func TestFetchRecordsNon2xxIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/char", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchCharRecords(context.Background(), Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"}, "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))
}

func TestFetchRecordsHonoursContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/char", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{
			"list": []interface{}{charRow("10", 4)}, "hasMore": true}})
	})
	c := newTestClient(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.FetchCharRecords(ctx, Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"}, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchWeaponPools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/weapon/pool", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 0, "data": []interface{}{
			map[string]string{"poolId": "weponbox_constant_1", "poolName": "Arsenal"},
			map[string]string{"poolId": "weponbox_1_0_1", "poolName": "Edge"},
		}})
	})
	c := newTestClient(t, mux)

	pools, err := c.FetchWeaponPools(context.Background(), Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"})
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "weponbox_1_0_1", pools[1].PoolID)
}

func TestFetchPoolContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/content", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pool := map[string]interface{}{
			"up6_name":  "Laevatain",
			"pool_name": "Scorching Heart",
			"pool_type": "special",
			"all": []interface{}{
				map[string]interface{}{"id": "chr_4", "name": "Laevatain", "rarity": 4},
				map[string]interface{}{"id": "chr_16", "name": "Laevatain", "rarity": 6},
			},
		}
		if q.Get("pool_id") == "weponbox_constant_2" {
			assert.Equal(t, "1", q.Get("server_id"))
			pool["pool_type"] = ""
			pool["up6_name"] = "Forgeborn"
			pool["all"] = []interface{}{map[string]interface{}{"id": 77, "name": "Forgeborn", "rarity": 5}}
		}
		writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{"pool": pool}})
	})
	c := newTestClient(t, mux)
	s := Session{Provider: models.ProviderHypergryph, U8Token: "tok", ServerID: "1"}

	entry, err := c.FetchPoolContent(context.Background(), s, "special_1_0_1", models.KindChar)
	require.NoError(t, err)
	assert.Equal(t, "chr_16", entry.Up6ID, "top tier entry wins over a same-named lower tier")
	assert.Equal(t, "special", entry.PoolType)

	entry, err = c.FetchPoolContent(context.Background(), s, "weponbox_constant_2", models.KindWeapon)
	require.NoError(t, err)
	assert.Equal(t, "77", entry.Up6ID)
	assert.Equal(t, "constant", entry.PoolType)
	assert.Equal(t, "weapon", entry.PoolGachaType)
}

func TestFetchPoolContentMissingPool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/content", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 0, "data": map[string]interface{}{}})
	})
	c := newTestClient(t, mux)

	_, err := c.FetchPoolContent(context.Background(), Session{Provider: models.ProviderHypergryph}, "p", models.KindChar)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func authMux(t *testing.T, roles []interface{}) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/as/user/oauth2/v2/grant", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["token"] != "account-token" {
			writeJSON(w, map[string]interface{}{"status": 3, "msg": "invalid token"})
			return
		}
		assert.Equal(t, "be36d44aa36bfb5b", body["appCode"])
		writeJSON(w, map[string]interface{}{"status": 0, "data": map[string]string{"token": "grant-token"}})
	})
	mux.HandleFunc("/binding-api-account-prod/account/binding/v1/u8_token_by_uid", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "grant-token", body["token"])
		writeJSON(w, map[string]interface{}{"status": 0, "data": map[string]string{"token": "u8-" + body["uid"]}})
	})
	mux.HandleFunc("/u8/game/role/v1/query_role_list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"status": 0, "data": map[string]interface{}{"uid": 1001, "roles": roles}})
	})
	return mux
}

func TestAuthenticateTokenAccount(t *testing.T) {
	roles := []interface{}{
		map[string]interface{}{"roleId": 5, "nickname": "Other", "serverId": 2},
		map[string]interface{}{"roleId": 7, "nickname": "Endmin", "serverId": 1, "serverName": "Talos"},
	}
	c := newTestClient(t, authMux(t, roles))

	s, err := c.Authenticate(context.Background(), models.Account{UID: "1001", Token: "account-token", Provider: models.ProviderHypergryph})
	require.NoError(t, err)
	assert.Equal(t, "u8-1001", s.U8Token)
	assert.Equal(t, "1", s.ServerID)
	require.NotNil(t, s.Role)
	assert.Equal(t, "7", s.Role.RoleID, "role on the session server wins")
	assert.Equal(t, "Endmin", s.Role.NickName)
}

func TestAuthenticateRejectedGrant(t *testing.T) {
	c := newTestClient(t, authMux(t, nil))

	_, err := c.Authenticate(context.Background(), models.Account{UID: "1001", Token: "bad"})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateGryphlineNeedsServer(t *testing.T) {
	c := newTestClient(t, authMux(t, nil))

	_, err := c.Authenticate(context.Background(), models.Account{UID: "1", Token: "account-token", Provider: models.ProviderGryphline})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateURLAccountResolvesRole(t *testing.T) {
	roles := []interface{}{map[string]interface{}{"roleId": "9", "nickName": "Perlica", "serverId": "3"}}
	c := newTestClient(t, authMux(t, roles))

	acc := models.Account{Source: models.SourceURL, GachaURL: "https://ef-webview.gryphline.com/page/gacha?u8_token=abc&pool_id=special_1"}
	s, err := c.Authenticate(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGryphline, s.Provider)
	assert.Equal(t, "abc", s.U8Token)
	assert.Equal(t, "1001", s.UID)
	assert.Equal(t, "3", s.ServerID)
	assert.Equal(t, "Perlica", s.Role.NickName)
}

func TestParseGachaURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    GachaURL
		wantErr bool
	}{
		{
			name: "hypergryph always server 1",
			raw:  "https://ef-webview.hypergryph.com/page/gacha_char?u8_token=t1&pool_id=p1&server_id=4&lang=zh-cn",
			want: GachaURL{Provider: models.ProviderHypergryph, U8Token: "t1", PoolID: "p1", ServerID: "1", Lang: "zh-cn"},
		},
		{
			name: "gryphline camel case server",
			raw:  "https://ef-webview.gryphline.com/page/gacha_char?u8_token=t2&pool_id=p2&serverId=3",
			want: GachaURL{Provider: models.ProviderGryphline, U8Token: "t2", PoolID: "p2", ServerID: "3"},
		},
		{
			name: "query behind fragment",
			raw:  "https://ef-webview.gryphline.com/#/gacha?u8_token=t3&pool_id=p3&server=2",
			want: GachaURL{Provider: models.ProviderGryphline, U8Token: "t3", PoolID: "p3", ServerID: "2"},
		},
		{name: "missing token", raw: "https://ef-webview.hypergryph.com/?pool_id=p", wantErr: true},
		{name: "missing pool", raw: "https://ef-webview.hypergryph.com/?u8_token=t", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGachaURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserAgentTransport(t *testing.T) {
	var agent, accept string
	mux := http.NewServeMux()
	mux.HandleFunc("/ef-webview/api/record/weapon/pool", func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"code":0,"data":[]}`)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchWeaponPools(context.Background(), Session{Provider: models.ProviderHypergryph})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Reader.UserAgent, agent)
	assert.Equal(t, "application/json", accept)
}
