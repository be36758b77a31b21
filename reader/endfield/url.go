package endfield

import (
	"fmt"
	"net/url"
	"strings"

	"gachasync/models"
)

// GachaURL is the record page link shown by the game client.
type GachaURL struct {
	Provider models.Provider
	U8Token  string
	PoolID   string
	ServerID string
	Lang     string
}

// ParseGachaURL extracts the token and pool from a record page link. The
// provider follows the host. For gryphline the server id is read from the
// first of server_id, serverId, serverid or server.
func ParseGachaURL(raw string) (GachaURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return GachaURL{}, fmt.Errorf("parse gacha url: %w", err)
	}
	q := u.Query()
	// some clients put the query behind a fragment route
	if len(q) == 0 && strings.Contains(u.Fragment, "?") {
		q, _ = url.ParseQuery(u.Fragment[strings.Index(u.Fragment, "?")+1:])
	}

	out := GachaURL{
		Provider: models.ProviderHypergryph,
		U8Token:  strings.TrimSpace(q.Get("u8_token")),
		PoolID:   strings.TrimSpace(q.Get("pool_id")),
		Lang:     q.Get("lang"),
	}
	if strings.HasSuffix(u.Hostname(), "gryphline.com") {
		out.Provider = models.ProviderGryphline
	}
	for _, key := range []string{"server_id", "serverId", "serverid", "server"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			out.ServerID = v
			break
		}
	}
	if out.U8Token == "" {
		return GachaURL{}, fmt.Errorf("gacha url has no u8_token")
	}
	if out.PoolID == "" {
		return GachaURL{}, fmt.Errorf("gacha url has no pool_id")
	}
	// the CN record service only knows server 1
	if out.Provider == models.ProviderHypergryph {
		out.ServerID = "1"
	}
	return out, nil
}
