package domain

import (
	"slices"
	"time"
)

// Claims is the decoded identity carried by a validated token.
type Claims struct {
	Subject   string    `json:"sub"`
	UserID    string    `json:"uid,omitempty"`
	TokenID   string    `json:"jti"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

func (c Claims) HasRole(name string) bool {
	return slices.Contains(c.Roles, name)
}

// IssuedSession is returned by register and login.
type IssuedSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
}
