package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"alice", "Bob_42", "x", "dash-user", strings.Repeat("a", MaxUsernameLength)} {
		require.NoError(t, ValidateUsername(name), "expected %q to be valid", name)
	}

	require.ErrorIs(t, ValidateUsername(""), ErrUsernameEmpty)
	require.ErrorIs(t, ValidateUsername(strings.Repeat("a", MaxUsernameLength+1)), ErrUsernameTooLong)

	for _, name := range []string{"has space", "semi;colon", "émile", "tab\tname", "a\nb"} {
		require.ErrorIs(t, ValidateUsername(name), ErrUsernameInvalidChars, "expected %q to be rejected", name)
	}
}

func TestSanitizeText(t *testing.T) {
	require.Equal(t, "hello world", SanitizeText("hello\nworld"))
	require.Equal(t, "a b", SanitizeText("a\r\nb"))
	require.Equal(t, "ab", SanitizeText("a\rb"))
	require.Equal(t, "clean", SanitizeText("cle\x1b[31man"))
	require.Equal(t, "plain text", SanitizeText("plain text"))
	require.Equal(t, "emoji \U0001f44d ok", SanitizeText("emoji \U0001f44d ok"))
}

func TestNormalizeColor(t *testing.T) {
	require.Equal(t, "#ff0000", NormalizeColor("#ff0000"))
	require.Equal(t, "#aBc", NormalizeColor("#aBc"))
	require.Equal(t, "tomato", NormalizeColor("tomato"))
	require.Equal(t, "#112233", NormalizeColor("  #112233  "))

	require.Equal(t, DefaultColor, NormalizeColor(""))
	require.Equal(t, DefaultColor, NormalizeColor("#12345"))
	require.Equal(t, DefaultColor, NormalizeColor("#gggggg"))
	require.Equal(t, DefaultColor, NormalizeColor("red;drop table"))
	require.Equal(t, DefaultColor, NormalizeColor("javascript:alert(1)"))
}

func TestTruncateContent(t *testing.T) {
	short := "hello"
	require.Equal(t, short, TruncateContent(short))

	long := strings.Repeat("é", MaxMessageLength+10)
	got := TruncateContent(long)
	require.Equal(t, MaxMessageLength, len([]rune(got)))
}
