package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionKey identifies a conversation by (channel, chat, user). Components
// must be URL-safe; the canonical form joins them with ":".
type SessionKey struct {
	Channel string
	ChatID  string
	UserID  string
}

// String returns the canonical "{channel}:{chat_id}:{user_id}" form.
func (k SessionKey) String() string {
	return k.Channel + ":" + k.ChatID + ":" + k.UserID
}

// FileKey returns the filename-safe form, with ":" replaced by "__".
func (k SessionKey) FileKey() string {
	return strings.ReplaceAll(k.String(), ":", "__")
}

// ParseSessionKey parses the canonical form back into its components.
func ParseSessionKey(s string) (SessionKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return SessionKey{}, fmt.Errorf("invalid session key %q: want channel:chat_id:user_id", s)
	}
	return SessionKey{Channel: parts[0], ChatID: parts[1], UserID: parts[2]}, nil
}

// Session represents a conversation thread. It owns an ordered message
// sequence; TurnOffset records where the contiguous turn numbering starts
// after older turns have been compacted away from the live window.
type Session struct {
	Key          string         `json:"key"`
	TurnOffset   int            `json:"turn_offset"`
	TurnCount    int            `json:"turn_count"`
	Expired      bool           `json:"expired"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
}
