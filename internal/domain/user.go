// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxSessionIDLen   = 36
	MaxDisplayNameLen = 36
	DefaultName       = "guest"
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrSessionIDEmpty     = errors.New("session id empty")
	ErrSessionIDTooLong   = errors.New("session id too long")
)

// SessionID identifies one connected participant. The server assigns it per
// signaling connection.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (id SessionID) Validate() error {
	if len(id) == 0 {
		return ErrSessionIDEmpty
	}
	if len(id) > MaxSessionIDLen {
		return ErrSessionIDTooLong
	}
	return nil
}

// NormalizeDisplayName trims the name and falls back to DefaultName.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName, nil
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
