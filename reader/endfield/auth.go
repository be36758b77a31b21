package endfield

import (
	"context"
	"fmt"
	"strings"

	"gachasync/models"
)

// Session is an authenticated record API context.
type Session struct {
	Provider models.Provider
	U8Token  string
	ServerID string
	UID      string
	Role     *models.AccountRole
}

func appCode(provider models.Provider) string {
	if provider == models.ProviderGryphline {
		return "3dacefa138426cfe"
	}
	return "be36d44aa36bfb5b"
}

// Grant exchanges an account token for a short lived grant token.
func (c *Client) Grant(ctx context.Context, provider models.Provider, accountToken string) (string, error) {
	var resp models.TokenResponse
	body := map[string]interface{}{
		"type":    1,
		"appCode": appCode(provider),
		"token":   accountToken,
	}
	if _, err := c.postJSON(ctx, c.serviceURL(provider, serviceAccount, "/user/oauth2/v2/grant"), body, &resp); err != nil {
		return "", fmt.Errorf("grant: %w", err)
	}
	if resp.Status != 0 || resp.Data.Token == "" {
		return "", fmt.Errorf("%w: grant status %d: %s", ErrAuthFailed, resp.Status, resp.Msg)
	}
	return resp.Data.Token, nil
}

// U8Token exchanges a grant token for the record API token of uid.
func (c *Client) U8Token(ctx context.Context, provider models.Provider, uid, grantToken string) (string, error) {
	var resp models.TokenResponse
	body := map[string]string{"uid": uid, "token": grantToken}
	if _, err := c.postJSON(ctx, c.serviceURL(provider, serviceBinding, "/account/binding/v1/u8_token_by_uid"), body, &resp); err != nil {
		return "", fmt.Errorf("u8 token: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("%w: u8 token missing: %s", ErrAuthFailed, resp.Msg)
	}
	return resp.Data.Token, nil
}

// QueryRole resolves the uid and in-game role behind a u8 token. The role on
// serverID wins, otherwise the first role is used.
func (c *Client) QueryRole(ctx context.Context, provider models.Provider, u8Token, serverID string) (string, models.AccountRole, error) {
	var resp models.RoleListResponse
	body := map[string]string{"token": u8Token, "serverId": serverID}
	if _, err := c.postJSON(ctx, c.serviceURL(provider, serviceU8, "/game/role/v1/query_role_list"), body, &resp); err != nil {
		return "", models.AccountRole{}, fmt.Errorf("query role list: %w", err)
	}
	if resp.Status != 0 {
		return "", models.AccountRole{}, fmt.Errorf("%w: query role list status %d: %s", ErrAuthFailed, resp.Status, resp.Msg)
	}

	uid := strings.TrimSpace(resp.Data.UID.String())
	if uid == "" {
		return "", models.AccountRole{}, fmt.Errorf("%w: role list has no uid", ErrBadResponse)
	}
	if len(resp.Data.Roles) == 0 {
		return "", models.AccountRole{}, fmt.Errorf("%w: role list is empty", ErrBadResponse)
	}

	picked := resp.Data.Roles[0]
	for _, r := range resp.Data.Roles {
		if r.ServerID.String() == serverID {
			picked = r
			break
		}
	}
	role := models.AccountRole{
		RoleID:     strings.TrimSpace(picked.RoleID.String()),
		NickName:   strings.TrimSpace(picked.Nickname),
		ServerID:   picked.ServerID.String(),
		ServerName: strings.TrimSpace(picked.ServerName),
	}
	if role.NickName == "" {
		role.NickName = strings.TrimSpace(picked.NickName)
	}
	if role.RoleID == "" {
		return "", models.AccountRole{}, fmt.Errorf("%w: role has no id", ErrBadResponse)
	}
	return uid, role, nil
}

// Authenticate turns an account into a record API session. URL accounts carry
// their token, token accounts go through the grant and u8 token exchange. When
// the account has no role yet it is looked up with the fresh u8 token.
func (c *Client) Authenticate(ctx context.Context, acc models.Account) (Session, error) {
	var s Session
	if acc.Source == models.SourceURL || (acc.Token == "" && acc.GachaURL != "") {
		parsed, err := ParseGachaURL(acc.GachaURL)
		if err != nil {
			return Session{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		s = Session{Provider: parsed.Provider, U8Token: parsed.U8Token, ServerID: parsed.ServerID, UID: acc.UID}
	} else {
		if acc.Token == "" {
			return Session{}, fmt.Errorf("%w: account %s has no token", ErrAuthFailed, acc.UserKey())
		}
		provider := acc.Provider
		if provider == "" {
			provider = models.ProviderHypergryph
		}
		serverID := models.Account{Provider: provider, Role: acc.Role}.ServerID()
		if serverID == "" {
			return Session{}, fmt.Errorf("%w: account %s has no server id", ErrAuthFailed, acc.UserKey())
		}

		grant, err := c.Grant(ctx, provider, acc.Token)
		if err != nil {
			return Session{}, err
		}
		u8, err := c.U8Token(ctx, provider, acc.UID, grant)
		if err != nil {
			return Session{}, err
		}
		s = Session{Provider: provider, U8Token: u8, ServerID: serverID, UID: acc.UID}
	}

	if acc.Role != nil {
		role := *acc.Role
		s.Role = &role
		return s, nil
	}
	uid, role, err := c.QueryRole(ctx, s.Provider, s.U8Token, s.ServerID)
	if err != nil {
		return Session{}, err
	}
	if s.UID == "" {
		s.UID = uid
	}
	if s.ServerID == "" {
		s.ServerID = role.ServerID
	}
	s.Role = &role
	return s, nil
}
