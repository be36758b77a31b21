package endfield

import (
	"context"
	"fmt"
	"net/url"

	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
)

// PageFunc observes every fetched page with its 1-based number and row count.
type PageFunc func(page, count int)

type recordRow interface {
	Normalize() models.PullRecord
}

// FetchCharRecords reads the whole history of one character pool type.
func (c *Client) FetchCharRecords(ctx context.Context, s Session, poolType string, onPage PageFunc) ([]models.PullRecord, error) {
	extra := url.Values{"pool_type": {poolType}}
	return fetchPaginated[models.CharRecord](ctx, c, s, "/api/record/char", models.KindChar, extra, onPage)
}

// FetchWeaponRecords reads the whole history of one weapon pool.
func (c *Client) FetchWeaponRecords(ctx context.Context, s Session, poolID string, onPage PageFunc) ([]models.PullRecord, error) {
	extra := url.Values{"pool_id": {poolID}}
	return fetchPaginated[models.WeaponRecord](ctx, c, s, "/api/record/weapon", models.KindWeapon, extra, onPage)
}

// FetchWeaponPools lists the weapon pools the account has pulled on.
func (c *Client) FetchWeaponPools(ctx context.Context, s Session) ([]models.WeaponPool, error) {
	q := c.baseQuery(s)
	var resp models.WeaponPoolResponse
	if _, err := c.getJSON(ctx, c.serviceURL(s.Provider, serviceWebview, "/api/record/weapon/pool"), q, &resp); err != nil {
		return nil, fmt.Errorf("weapon pools: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: weapon pools code %d: %s", ErrBadResponse, resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

func (c *Client) baseQuery(s Session) url.Values {
	q := url.Values{}
	q.Set("lang", c.lang)
	q.Set("token", s.U8Token)
	q.Set("server_id", s.ServerID)
	return q
}

// fetchPaginated follows the seq_id cursor until the service reports no more
// rows, returns a non-zero code or an empty page. Any transport error aborts
// the whole pool so a partial history is never merged.
func fetchPaginated[T recordRow](ctx context.Context, c *Client, s Session, path string, kind models.RecordKind, extra url.Values, onPage PageFunc) ([]models.PullRecord, error) {
	log := c.log.WithComponent("endfield_client").WithFields(logger.Fields{"kind": kind, "path": path})
	endpoint := c.serviceURL(s.Provider, serviceWebview, path)

	records := make([]models.PullRecord, 0)
	cursor := ""
	for page := 1; ; page++ {
		q := c.baseQuery(s)
		for k, v := range extra {
			q[k] = v
		}
		if cursor != "" {
			q.Set("seq_id", cursor)
		}

		var resp models.RecordPage[T]
		size, err := c.getJSON(ctx, endpoint, q, &resp)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", kind, page, err)
		}
		logger.IncrementPageFetched(string(kind), size)
		metrics.IncrementPages(string(kind))

		if resp.Code != 0 {
			log.WithFields(logger.Fields{"code": resp.Code, "msg": resp.Msg, "page": page}).Warn("record page returned non-zero code")
			break
		}
		list := resp.Data.List
		if len(list) == 0 {
			break
		}
		for _, row := range list {
			if r := row.Normalize(); r.SeqID != "" {
				records = append(records, r)
			}
		}
		if onPage != nil {
			onPage(page, len(list))
		}

		if !resp.Data.HasMore {
			break
		}
		cursor = list[len(list)-1].Normalize().SeqID
		if cursor == "" {
			log.WithFields(logger.Fields{"page": page}).Warn("last row has no seqId, stopping pagination")
			break
		}
		if err := c.sleep(ctx, c.pageDelay()); err != nil {
			return nil, err
		}
	}

	logger.LogDataFlowEntry(log, "endfield_api", "sync_processor", len(records), string(kind)+"_records")
	return records, nil
}
