package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEventFingerprint(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"fingerprint","fingerprint":"abc123"}`))
	require.NoError(t, err)
	require.Equal(t, TypeFingerprint, ev.Type)
	require.NotNil(t, ev.Fingerprint)
	require.Equal(t, "abc123", ev.Fingerprint.Fingerprint)
	require.Nil(t, ev.Join)
	require.Nil(t, ev.Message)
}

func TestDecodeEventJoin(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"join","username":"alice","color":"#ff0000","website":"https://example.com"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Join)
	require.Equal(t, "alice", ev.Join.Username)
	require.Equal(t, "#ff0000", ev.Join.Color)
	require.Equal(t, "https://example.com", ev.Join.Website)
}

func TestDecodeEventMessageWithReply(t *testing.T) {
	raw := []byte(`{"type":"message","content":"hi","replyTo":{"author":"bob","content":"earlier"}}`)
	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	require.Equal(t, "hi", ev.Message.Content)
	require.NotNil(t, ev.Message.ReplyTo)
	require.Equal(t, "bob", ev.Message.ReplyTo.Author)
}

func TestDecodeEventDM(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"dmMessage","targetUsername":"carol","content":"psst"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.DM)
	require.Equal(t, "carol", ev.DM.TargetUsername)
	require.Equal(t, "psst", ev.DM.Content)
}

func TestDecodeEventEdit(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"editMessage","messageId":"m-1","newContent":"fixed"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Edit)
	require.Equal(t, "m-1", ev.Edit.MessageID)
	require.Equal(t, "fixed", ev.Edit.NewContent)
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"teleport","x":1}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeEventMalformed(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeEventMissingType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"content":"no discriminator"}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestEncodeOutboundShape(t *testing.T) {
	data, err := Encode(TypingBroadcast{Type: OutTyping, Username: "alice", IsTyping: true})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "typing", out["type"])
	require.Equal(t, "alice", out["username"])
	require.Equal(t, true, out["isTyping"])
}
