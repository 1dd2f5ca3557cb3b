// Package model defines the core domain types for the Parlor chat hub.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxUsernameLength bounds self-reported usernames.
	MaxUsernameLength = 32

	// MaxMessageLength bounds chat and DM content in runes.
	MaxMessageLength = 2000

	// PublicHistoryLimit is the capacity of the public chat ring buffer.
	PublicHistoryLimit = 128

	// DMHistoryLimit is the per-thread capacity of a direct-message thread.
	DMHistoryLimit = 512

	// DeletedPlaceholder replaces the content of a soft-deleted message.
	DeletedPlaceholder = "[message deleted]"

	// DefaultColor is used when a client supplies no or an invalid color.
	DefaultColor = "#7a7a7a"
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

// Attachment is an opaque reference to an uploaded file. The hub never
// inspects file bytes; the upload subsystem supplies these fields.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ReplySnapshot captures the replied-to author and content at reply time.
// It is a copy, not a live link: later edits or deletes of the original
// do not change it.
type ReplySnapshot struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// ChatMessage is a public chat entry. Messages are never physically
// removed except by ring-buffer eviction; edits and deletes mutate the
// entry in place and leave a tombstone.
type ChatMessage struct {
	ID          string         `json:"id"`
	Author      string         `json:"author"`
	Color       string         `json:"color"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty"`
	Edited      bool           `json:"edited,omitempty"`
	EditedAt    time.Time      `json:"editedAt,omitempty"`
	Deleted     bool           `json:"deleted,omitempty"`
	DeletedAt   time.Time      `json:"deletedAt,omitempty"`
}

// DirectMessage is a private message between two users. Same shape as a
// public message plus the sender and target usernames.
type DirectMessage struct {
	ChatMessage
	From string `json:"from"`
	To   string `json:"to"`
}

// Profile holds the self-reported attributes of a connected user.
type Profile struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	Website  string `json:"website,omitempty"`
	Typing   bool   `json:"isTyping"`
	Tabbed   bool   `json:"isTabbed"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// SanitizeText strips control characters from user-supplied text to prevent
// UI spoofing and terminal escape injection. Newlines collapse to spaces;
// carriage returns drop entirely, so a CRLF yields one space, not two.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// NormalizeColor returns the color if it looks like a #rgb/#rrggbb hex
// value or a short alphabetic token, and DefaultColor otherwise.
func NormalizeColor(c string) string {
	c = strings.TrimSpace(c)
	if isHexColor(c) || isColorWord(c) {
		return c
	}
	return DefaultColor
}

func isHexColor(c string) bool {
	if len(c) != 4 && len(c) != 7 {
		return false
	}
	if c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

func isColorWord(c string) bool {
	if len(c) == 0 || utf8.RuneCountInString(c) > 24 {
		return false
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// TruncateContent caps message content at MaxMessageLength runes.
func TruncateContent(s string) string {
	if utf8.RuneCountInString(s) <= MaxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxMessageLength])
}
