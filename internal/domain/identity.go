package domain

import (
	"strings"
	"time"
)

// UserIdentity is the verified identity supplied by the auth collaborator.
type UserIdentity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Empty reports whether either part of the identity is missing.
func (u UserIdentity) Empty() bool {
	return strings.TrimSpace(u.UserID) == "" || strings.TrimSpace(u.UserName) == ""
}

// Contact is a user as shown in online, friend and request lists.
// CreatedAt is only set for friend requests.
type Contact struct {
	UserID    string
	UserName  string
	CreatedAt time.Time
}
