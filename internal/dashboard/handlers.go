package dashboard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sahilm/fuzzy"

	"gachasync/gacha"
	"gachasync/logger"
	"gachasync/models"
	"gachasync/processor"
	"gachasync/store"
)

// accountView is an account as listed by the API. Tokens never leave the process.
type accountView struct {
	Key        string              `json:"key"`
	UID        string              `json:"uid"`
	Provider   models.Provider     `json:"provider"`
	Source     string              `json:"source,omitempty"`
	Role       *models.AccountRole `json:"role,omitempty"`
	Syncing    bool                `json:"syncing"`
	LastResult *models.SyncResult  `json:"last_result,omitempty"`
}

func (s *Server) handleAccounts(c *gin.Context) {
	accounts, err := s.deps.Accounts.List(c.Request.Context())
	if err != nil {
		s.serverError(c, "list accounts", err)
		return
	}

	payload := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		key := acc.UserKey()
		view := accountView{
			Key:      key,
			UID:      acc.UID,
			Provider: acc.Provider,
			Source:   acc.Source,
			Role:     acc.Role,
			Syncing:  s.deps.Syncer.InFlight(key),
		}
		if res, ok := s.deps.Syncer.LastResult(key); ok {
			view.LastResult = &res
		}
		payload = append(payload, view)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": payload})
}

func (s *Server) handleStatistics(c *gin.Context) {
	key, ok := s.knownAccount(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	char, err := s.deps.History.Load(ctx, key, models.KindChar)
	if err != nil {
		s.serverError(c, "load char history", err)
		return
	}
	weapon, err := s.deps.History.Load(ctx, key, models.KindWeapon)
	if err != nil {
		s.serverError(c, "load weapon history", err)
		return
	}

	pools, err := s.deps.Pools.List(ctx)
	if err != nil {
		s.serverError(c, "load pool info", err)
		return
	}

	c.JSON(http.StatusOK, gacha.BuildReport(char, weapon, pools))
}

// recordMatches adapts a record list to fuzzy.Source over item names.
type recordMatches []models.PullRecord

func (r recordMatches) String(i int) string { return r[i].ItemName }
func (r recordMatches) Len() int { return len(r) }

func (s *Server) handleRecords(c *gin.Context) {
	key, ok := s.knownAccount(c)
	if !ok {
		return
	}

	kind := models.RecordKind(strings.ToLower(c.DefaultQuery("kind", string(models.KindChar))))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be char or weapon"})
		return
	}

	history, err := s.deps.History.Load(c.Request.Context(), key, kind)
	if err != nil {
		s.serverError(c, "load history", err)
		return
	}

	pool := c.Query("pool")
	if pool != "" {
		history = models.PoolHistory{pool: history[pool]}
	}

	query := strings.TrimSpace(c.Query("q"))
	out := make(models.PoolHistory, len(history))
	total := 0
	for poolKey, list := range history {
		filtered := filterRecords(list, query)
		if len(filtered) == 0 && pool == "" {
			continue
		}
		out[poolKey] = filtered
		total += len(filtered)
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":    kind,
		"total":   total,
		"records": out,
	})
}

// filterRecords keeps the records whose item name fuzzily matches query.
// Matches keep their newest-first order rather than score order.
func filterRecords(list []models.PullRecord, query string) []models.PullRecord {
	if list == nil {
		return []models.PullRecord{}
	}
	if query == "" {
		return list
	}
	matches := fuzzy.FindFrom(strings.ToLower(query), lowerNames(list))
	keep := make([]bool, len(list))
	for _, m := range matches {
		keep[m.Index] = true
	}
	out := make([]models.PullRecord, 0, len(matches))
	for i, r := range list {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

func lowerNames(list []models.PullRecord) recordMatches {
	out := make(recordMatches, len(list))
	for i, r := range list {
		r.ItemName = strings.ToLower(r.ItemName)
		out[i] = r
	}
	return out
}

func (s *Server) handleSync(c *gin.Context) {
	key := c.Param("key")
	req, err := s.deps.Syncer.Enqueue(c.Request.Context(), key, "dashboard")
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"sync": req})
	case errors.Is(err, processor.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, processor.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, processor.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.serverError(c, "enqueue sync", err)
	}
}

func (s *Server) knownAccount(c *gin.Context) (string, bool) {
	key := c.Param("key")
	if _, err := s.deps.Accounts.Get(c.Request.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
			return "", false
		}
		s.serverError(c, "get account", err)
		return "", false
	}
	return key, true
}

func (s *Server) serverError(c *gin.Context, op string, err error) {
	s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{
		"operation": op,
		"path":      c.FullPath(),
	}).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
