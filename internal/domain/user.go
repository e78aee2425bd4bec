// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen      = 128
	MaxDisplayNameLen = 64
	MaxEmailLen       = 254
)

var (
	ErrUserIDEmpty        = errors.New("identity empty")
	ErrUserIDTooLong      = errors.New("identity too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrEmailTooLong       = errors.New("email too long")
)

// UserID is the stable identity of a participant, independent of its connection.
type UserID string

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Profile is what a participant tells the room about itself on join.
type Profile struct {
	DisplayName    string `json:"displayName"`
	Email          string `json:"email,omitempty"`
	IsMuted        *bool  `json:"isMuted,omitempty"`
	IsVideoEnabled *bool  `json:"isVideoEnabled,omitempty"`
}

// Normalize trims the profile and checks its limits.
// An empty display name falls back to the identity.
func (p *Profile) Normalize(id UserID) error {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Email = strings.TrimSpace(p.Email)
	if p.DisplayName == "" {
		p.DisplayName = string(id)
	}
	if p.DisplayName == "" {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(p.DisplayName) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	if len(p.Email) > MaxEmailLen {
		return ErrEmailTooLong
	}
	return nil
}
