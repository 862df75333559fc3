package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{"simple", "doc1", true},
		{"underscore and hyphen", "dr_smith-2", true},
		{"single char", "a", true},
		{"max length", strings.Repeat("a", 100), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 101), false},
		{"space", "dr smith", false},
		{"punctuation", "doc!", false},
		{"dot", "dr.smith", false},
		{"unicode", "医生", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUserID(tt.userID))
		})
	}
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("hello"))
	assert.NoError(t, ValidateText(strings.Repeat("a", 1000)))

	assert.ErrorIs(t, ValidateText(""), ErrEmptyText)
	assert.ErrorIs(t, ValidateText("   \n\t "), ErrEmptyText)
	assert.ErrorIs(t, ValidateText(strings.Repeat("a", 1001)), ErrTextTooLong)
}

func TestValidateText_CountsCharactersNotBytes(t *testing.T) {
	// 600 two-byte runes: well under the 1000-character limit even though
	// the byte length is 1200.
	assert.NoError(t, ValidateText(strings.Repeat("é", 600)))
	assert.NoError(t, ValidateText(strings.Repeat("é", 1000)))
	assert.ErrorIs(t, ValidateText(strings.Repeat("é", 1001)), ErrTextTooLong)
	assert.NoError(t, ValidateText(strings.Repeat("医", 1000)))
}

func TestValidateText_TrimsBeforeLengthCheck(t *testing.T) {
	padded := "  " + strings.Repeat("a", 1000) + "  "
	assert.NoError(t, ValidateText(padded))
}

func TestEnvelope_Accessors(t *testing.T) {
	env := Envelope{"type": "message", "text": "hi", "count": 3.0}

	assert.Equal(t, "message", env.Kind())

	text, ok := env.Text()
	require.True(t, ok)
	assert.Equal(t, "hi", text)

	// Non-string and missing fields read as absent.
	_, ok = env.StringField("count")
	assert.False(t, ok)
	_, ok = env.StringField("missing")
	assert.False(t, ok)

	assert.Equal(t, "", Envelope{"type": 7}.Kind())
}

func TestEnvelope_Stamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	env := Envelope{"type": "message", "text": "hi", "user_id": "spoofed"}

	env.Stamp("doc1", now)

	userID, _ := env.StringField("user_id")
	assert.Equal(t, "doc1", userID, "client-supplied user_id is overwritten")
	assert.Equal(t, now.Format(time.RFC3339Nano), env["timestamp"])

	id, ok := env.StringField("message_id")
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestEnvelope_StampAssignsDistinctIDs(t *testing.T) {
	now := time.Now()
	a := Envelope{"text": "x"}
	b := Envelope{"text": "x"}

	a.Stamp("doc1", now)
	b.Stamp("doc1", now)

	assert.NotEqual(t, a["message_id"], b["message_id"])
}

func TestSystemNotice(t *testing.T) {
	now := time.Now()
	env := SystemNotice(KindUserJoined, "doc1", "User doc1 joined the chat", now)

	assert.Equal(t, KindUserJoined, env.Kind())
	text, _ := env.Text()
	assert.Equal(t, "User doc1 joined the chat", text)
	userID, _ := env.StringField("user_id")
	assert.Equal(t, "doc1", userID)
	assert.NotEmpty(t, env["message_id"])
	assert.Equal(t, now.Format(time.RFC3339Nano), env["timestamp"])
}

func TestErrorNotice(t *testing.T) {
	env := ErrorNotice("Rate limit exceeded. Please slow down.")

	assert.Equal(t, KindError, env.Kind())
	assert.Equal(t, "Rate limit exceeded. Please slow down.", env["message"])
}

func TestEnvelope_RoundTripPreservesExtraFields(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"message","text":"hi","custom":"kept"}`), &env))

	env.Stamp("doc1", time.Now())

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "kept", out["custom"])
	assert.Equal(t, "doc1", out["user_id"])
}
