// Package session implements the authentication session manager: the
// persisted session list, its reconciliation across concurrent consumers
// of the same secret store, and the login/logout orchestration on top of
// the OAuth client.
package session

import "authkeeper/pkg/scope"

// Account identifies the user a session belongs to.
type Account struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Session is a persisted credential record binding an opaque access
// token to an identity and a scope set. Identity is the ID; sessions are
// never partially updated, only replaced whole.
//
// The JSON shape matches the persisted blob: the account field is
// optional on read, since blobs written by older clients may lack it.
type Session struct {
	ID          string   `json:"id"`
	Account     Account  `json:"account,omitzero"`
	Scopes      []string `json:"scopes"`
	AccessToken string   `json:"accessToken"`
}

// HasAccount reports whether the session carries account identity
// information. Sessions loaded without it are verified against the
// user-info endpoint before being handed out.
func (s Session) HasAccount() bool {
	return s.Account.ID != ""
}

// MatchesScopes reports whether the session's scope set equals the given
// normalized scope set exactly.
func (s Session) MatchesScopes(scopes []string) bool {
	return scope.Equal(s.Scopes, scopes)
}
