package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// OAuth2 persistence rows. Tokens and codes snapshot the client and user at
// issuance time instead of referencing them by key.

type Client struct {
	Id           string    `json:"id"`
	ClientId     string    `json:"clientId"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	Name         string    `json:"name,omitempty"`
	VapidKey     string    `json:"vapidKey,omitempty"`
	RedirectUris []string  `json:"redirectUris,omitempty"`
	Grants       []string  `json:"grants,omitempty"`
	Scopes       ScopeList `json:"scopes,omitempty"`
	UserId       string    `json:"userId,omitempty"`
}

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type AccessToken struct {
	AccessToken           string     `json:"accessToken"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiresAt,omitempty"`
	RefreshToken          string     `json:"refreshToken,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
	Scope                 ScopeList  `json:"scope,omitempty"`
	Client                *Client    `json:"client,omitempty"`
	User                  *User      `json:"user,omitempty"`
}

type RefreshToken struct {
	RefreshToken          string     `json:"refreshToken"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
	Scope                 ScopeList  `json:"scope,omitempty"`
	Client                *Client    `json:"client,omitempty"`
	User                  *User      `json:"user,omitempty"`
}

type AuthorizationCode struct {
	AuthorizationCode   string     `json:"authorizationCode"`
	ExpiresAt           *time.Time `json:"expiresAt,omitempty"`
	RedirectUri         string     `json:"redirectUri,omitempty"`
	Scope               ScopeList  `json:"scope,omitempty"`
	CodeChallenge       string     `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string     `json:"codeChallengeMethod,omitempty"`
	Client              *Client    `json:"client,omitempty"`
	User                *User      `json:"user,omitempty"`
}

// ScopeList is a set of OAuth2 scopes. On the wire it may appear either as a
// space-delimited string or as a list of strings; both unmarshal to the list
// form.
type ScopeList []string

func (s *ScopeList) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*s = SplitScopes(asString)
		return nil
	}
	var asList []string
	if err := json.Unmarshal(data, &asList); err != nil {
		return err
	}
	*s = asList
	return nil
}

// Contains reports whether every scope in the requested set is present.
func (s ScopeList) Contains(requested ScopeList) bool {
	granted := map[string]bool{}
	for _, scope := range s {
		granted[scope] = true
	}
	for _, scope := range requested {
		if !granted[scope] {
			return false
		}
	}
	return true
}

// SplitScopes splits a space-delimited scope string, dropping empty parts.
func SplitScopes(scope string) ScopeList {
	var scopes ScopeList
	for _, part := range strings.Split(scope, " ") {
		if part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}
