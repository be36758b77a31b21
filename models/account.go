package models

import (
	"fmt"
	"strings"
)

// Provider identifies the publisher operating an account's region.
type Provider string

const (
	ProviderHypergryph Provider = "hypergryph"
	ProviderGryphline  Provider = "gryphline"
)

// ParseProvider normalizes a provider name. An empty name means hypergryph.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProviderHypergryph):
		return ProviderHypergryph, nil
	case string(ProviderGryphline):
		return ProviderGryphline, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// AccountRole is the in-game role bound to an account.
type AccountRole struct {
	RoleID     string `json:"roleId"`
	NickName   string `json:"nickName"`
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
}

// Account sources.
const (
	SourceToken = "token"
	SourceURL   = "url"
)

// Account is a configured user. Token is the long lived account token used for the
// grant flow. GachaURL is an alternative that already carries a u8 token.
type Account struct {
	Key      string       `json:"key"`
	UID      string       `json:"uid"`
	Token    string       `json:"token"`
	Provider Provider     `json:"provider"`
	Role     *AccountRole `json:"role,omitempty"`
	Source   string       `json:"source,omitempty"`
	GachaURL string       `json:"gachaUrl,omitempty"`
}

// UserKey builds the storage key for an account.
func UserKey(uid, roleID string) string {
	if roleID == "" {
		return uid
	}
	return uid + "_" + roleID
}

// UserKey returns the explicit key or derives one from uid and role.
func (a Account) UserKey() string {
	if a.Key != "" {
		return a.Key
	}
	roleID := ""
	if a.Role != nil {
		roleID = a.Role.RoleID
	}
	return UserKey(a.UID, roleID)
}

// ServerID returns the record API server id: always "1" for hypergryph and the
// role's server for gryphline.
func (a Account) ServerID() string {
	if a.Provider == ProviderGryphline {
		if a.Role != nil {
			return strings.TrimSpace(a.Role.ServerID)
		}
		return ""
	}
	return "1"
}
