package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestRoomIDValidate(t *testing.T) {
	cases := []struct {
		id   RoomID
		want error
	}{
		{"standup", nil},
		{"", ErrRoomIDEmpty},
		{"   ", ErrRoomIDEmpty},
		{RoomID(strings.Repeat("r", MaxRoomIDLen)), nil},
		{RoomID(strings.Repeat("r", MaxRoomIDLen+1)), ErrRoomIDTooLong},
	}
	for _, c := range cases {
		if err := c.id.Validate(); !errors.Is(err, c.want) {
			t.Errorf("RoomID(%q).Validate() = %v, want %v", c.id, err, c.want)
		}
	}
}

func TestNewRoomID(t *testing.T) {
	a, b := NewRoomID(), NewRoomID()
	if len(a) != generatedRoomLen {
		t.Fatalf("len = %d, want %d", len(a), generatedRoomLen)
	}
	if a == b {
		t.Fatalf("two generated ids collide: %s", a)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("generated id invalid: %v", err)
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	got, err := NormalizeDisplayName("  Ann  ")
	if err != nil || got != "Ann" {
		t.Fatalf("got %q, %v", got, err)
	}
	got, err = NormalizeDisplayName(" ")
	if err != nil || got != DefaultName {
		t.Fatalf("blank name: got %q, %v", got, err)
	}
	if _, err := NormalizeDisplayName(strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Fatalf("long name: err = %v", err)
	}
}

func TestSessionIDValidate(t *testing.T) {
	if err := NewSessionID().Validate(); err != nil {
		t.Fatalf("generated id: %v", err)
	}
	if err := SessionID("").Validate(); !errors.Is(err, ErrSessionIDEmpty) {
		t.Fatalf("empty: %v", err)
	}
	if err := SessionID(strings.Repeat("s", MaxSessionIDLen+1)).Validate(); !errors.Is(err, ErrSessionIDTooLong) {
		t.Fatalf("long: %v", err)
	}
}

func TestNewChatMessage(t *testing.T) {
	m, err := NewChatMessage("a", "Ann", "hi")
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	if m.ID == "" || m.Sender != "a" || m.SenderName != "Ann" || m.Timestamp.IsZero() {
		t.Fatalf("unexpected message %+v", m)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := NewChatMessage("a", "", ""); !errors.Is(err, ErrChatEmpty) {
		t.Fatalf("empty text: %v", err)
	}
	if _, err := NewChatMessage("a", "", strings.Repeat("x", MaxChatTextLen+1)); !errors.Is(err, ErrChatTooLong) {
		t.Fatalf("long text: %v", err)
	}
	if err := (ChatMessage{Text: "no id"}).Validate(); !errors.Is(err, ErrChatEmpty) {
		t.Fatalf("missing id: %v", err)
	}
}
