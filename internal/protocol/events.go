// Package protocol defines the JSON events exchanged between clients and
// the hub. Inbound frames carry a "type" discriminator and are decoded
// into exactly one variant; outbound events are plain structs serialized
// once per broadcast.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parlorchat/parlor/internal/model"
)

// Inbound event type names.
const (
	TypeFingerprint    = "fingerprint"
	TypeJoin           = "join"
	TypeMessage        = "message"
	TypeDMMessage      = "dmMessage"
	TypeGetDMHistory   = "getDMHistory"
	TypeTyping         = "typing"
	TypeUpdateUser     = "updateUser"
	TypeCursor         = "cursor"
	TypeTabbedStatus   = "tabbedStatus"
	TypeEditMessage    = "editMessage"
	TypeDeleteMessage  = "deleteMessage"
	TypeSystemMessage  = "systemMessage"
	TypeFakeMessage    = "fakeMessage"
	TypeFakeConnect    = "fakeConnect"
	TypeFakeDisconnect = "fakeDisconnect"
)

// Outbound event type names.
const (
	OutHistory        = "history"
	OutUserList       = "userList"
	OutUserJoined     = "userJoined"
	OutUserLeft       = "userLeft"
	OutUserUpdated    = "userUpdated"
	OutMessage        = "message"
	OutDMMessage      = "dmMessage"
	OutDMHistory      = "dmHistory"
	OutDMError        = "dmError"
	OutMessageEdited  = "messageEdited"
	OutMessageDeleted = "messageDeleted"
	OutSystemMessage  = "systemMessage"
	OutTyping         = "typing"
	OutCursor         = "cursor"
	OutCommandResult  = "commandResult"
	OutError          = "error"

	// OutRequestFingerprint is sent right after connect to ask the peer
	// for its device fingerprint.
	OutRequestFingerprint = "requestFingerprint"
)

var ErrUnknownEventType = errors.New("unknown event type")

// ----- Inbound payloads -----

type FingerprintEvent struct {
	Fingerprint string `json:"fingerprint"`
}

type JoinRequest struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	Website  string `json:"website,omitempty"`
}

type MessageEvent struct {
	Content     string               `json:"content"`
	Attachments []model.Attachment   `json:"attachments,omitempty"`
	ReplyTo     *model.ReplySnapshot `json:"replyTo,omitempty"`
}

type DMMessageEvent struct {
	TargetUsername string             `json:"targetUsername"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
}

type GetDMHistoryEvent struct {
	TargetUsername string `json:"targetUsername"`
}

type TypingEvent struct {
	IsTyping bool `json:"isTyping"`
}

type UpdateUserEvent struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	Website  string `json:"website,omitempty"`
}

type CursorEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type TabbedStatusEvent struct {
	IsTabbed bool `json:"isTabbed"`
}

type EditMessageEvent struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
}

type DeleteMessageEvent struct {
	MessageID string `json:"messageId"`
}

type SystemMessageEvent struct {
	Message string `json:"message"`
}

type FakeMessageEvent struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	Message  string `json:"message"`
}

type FakeConnectEvent struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type FakeDisconnectEvent struct {
	Username string `json:"username"`
}

// ClientEvent is the decoded form of one inbound frame. Exactly one of
// the payload pointers is non-nil, matching Type.
type ClientEvent struct {
	Type string

	Fingerprint    *FingerprintEvent
	Join           *JoinRequest
	Message        *MessageEvent
	DM             *DMMessageEvent
	DMHistory      *GetDMHistoryEvent
	Typing         *TypingEvent
	UpdateUser     *UpdateUserEvent
	Cursor         *CursorEvent
	Tabbed         *TabbedStatusEvent
	Edit           *EditMessageEvent
	Delete         *DeleteMessageEvent
	System         *SystemMessageEvent
	FakeMessage    *FakeMessageEvent
	FakeConnect    *FakeConnectEvent
	FakeDisconnect *FakeDisconnectEvent
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses a raw inbound frame. The frame is unmarshaled twice:
// once for the discriminator and once into the matching payload struct.
// An unrecognized discriminator returns ErrUnknownEventType.
func DecodeEvent(raw []byte) (*ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	ev := &ClientEvent{Type: env.Type}
	var payload any

	switch env.Type {
	case TypeFingerprint:
		ev.Fingerprint = &FingerprintEvent{}
		payload = ev.Fingerprint
	case TypeJoin:
		ev.Join = &JoinRequest{}
		payload = ev.Join
	case TypeMessage:
		ev.Message = &MessageEvent{}
		payload = ev.Message
	case TypeDMMessage:
		ev.DM = &DMMessageEvent{}
		payload = ev.DM
	case TypeGetDMHistory:
		ev.DMHistory = &GetDMHistoryEvent{}
		payload = ev.DMHistory
	case TypeTyping:
		ev.Typing = &TypingEvent{}
		payload = ev.Typing
	case TypeUpdateUser:
		ev.UpdateUser = &UpdateUserEvent{}
		payload = ev.UpdateUser
	case TypeCursor:
		ev.Cursor = &CursorEvent{}
		payload = ev.Cursor
	case TypeTabbedStatus:
		ev.Tabbed = &TabbedStatusEvent{}
		payload = ev.Tabbed
	case TypeEditMessage:
		ev.Edit = &EditMessageEvent{}
		payload = ev.Edit
	case TypeDeleteMessage:
		ev.Delete = &DeleteMessageEvent{}
		payload = ev.Delete
	case TypeSystemMessage:
		ev.System = &SystemMessageEvent{}
		payload = ev.System
	case TypeFakeMessage:
		ev.FakeMessage = &FakeMessageEvent{}
		payload = ev.FakeMessage
	case TypeFakeConnect:
		ev.FakeConnect = &FakeConnectEvent{}
		payload = ev.FakeConnect
	case TypeFakeDisconnect:
		ev.FakeDisconnect = &FakeDisconnectEvent{}
		payload = ev.FakeDisconnect
	default:
		return nil, fmt.Errorf("protocol: %w: %q", ErrUnknownEventType, env.Type)
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("protocol: decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

// ----- Outbound events -----

type HistoryEvent struct {
	Type     string              `json:"type"`
	Messages []model.ChatMessage `json:"messages"`
}

type UserListEvent struct {
	Type  string          `json:"type"`
	Users []model.Profile `json:"users"`
	Count int             `json:"count"`
}

type UserJoinedEvent struct {
	Type string        `json:"type"`
	User model.Profile `json:"user"`
}

type UserLeftEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type UserUpdatedEvent struct {
	Type string        `json:"type"`
	User model.Profile `json:"user"`
}

type MessageBroadcast struct {
	Type    string            `json:"type"`
	Message model.ChatMessage `json:"message"`
}

type DMMessageBroadcast struct {
	Type    string              `json:"type"`
	Message model.DirectMessage `json:"message"`
}

type DMHistoryEvent struct {
	Type     string                `json:"type"`
	With     string                `json:"with"`
	Messages []model.DirectMessage `json:"messages"`
}

type DMErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type MessageEditedEvent struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"messageId"`
	NewContent string    `json:"newContent"`
	EditedAt   time.Time `json:"editedAt"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type SystemBroadcast struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type TypingBroadcast struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type CursorBroadcast struct {
	Type     string  `json:"type"`
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type CommandResultEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type RequestFingerprintEvent struct {
	Type string `json:"type"`
}

// Encode serializes an outbound event to a JSON frame.
func Encode(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}
