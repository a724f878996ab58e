package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestFormatRadioToChat(t *testing.T) {
	require.Equal(t, "[Alice/MeshA]: hi", FormatRadioToChat("Alice", "MeshA", "hi"))
}

func TestStripOwnPrefix(t *testing.T) {
	tests := []struct {
		text string
		tag  string
		want string
	}{
		{"[Alice/MeshA]: hello", "Alice/MeshA", "hello"},
		{"hello", "Alice/MeshA", "hello"},
		{"[Alice/MeshA]: [Alice/MeshA]: hello", "Alice/MeshA", "[Alice/MeshA]: hello"},
		{"say [Alice/MeshA]: hello", "Alice/MeshA", "say [Alice/MeshA]: hello"},
		{"[Bob/MeshB]: yo", "Alice/MeshA", "[Bob/MeshB]: yo"},
		{"[a.b/c+d]: x", "a.b/c+d", "x"},
	}
	for _, tt := range tests {
		if got := StripOwnPrefix(tt.text, tt.tag); got != tt.want {
			t.Errorf("StripOwnPrefix(%q, %q) = %q, want %q", tt.text, tt.tag, got, tt.want)
		}
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"🙂🙂", 7, "🙂"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateUTF8(tt.text, tt.max); got != tt.want {
			t.Errorf("TruncateUTF8(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
		}
	}
}

func TestTruncateUTF8NeverSplitsCharacters(t *testing.T) {
	inputs := []string{
		strings.Repeat("ż", 200),
		strings.Repeat("日本語テキスト", 40),
		strings.Repeat("a🙂b", 100),
		"mixed ascii, ąęś, ☃, 𝄞 and more " + strings.Repeat("€", 90),
	}
	for _, in := range inputs {
		for max := 0; max <= len(in)+1; max++ {
			out := TruncateUTF8(in, max)
			require.LessOrEqual(t, len(out), max)
			require.True(t, utf8.ValidString(out), "invalid utf-8 for max=%d", max)
			require.True(t, strings.HasPrefix(in, out))
			// nothing more than one partial character is discarded
			require.Greater(t, len(out)+utf8.UTFMax, min(max, len(in)))
		}
	}
}

func TestTruncateUTF8DefaultLimit(t *testing.T) {
	out := TruncateUTF8(strings.Repeat("x", 500), DefaultMaxMessageBytes)
	require.Len(t, out, 227)
}

func TestTruncateUTF8RepairsInvalidInput(t *testing.T) {
	out := TruncateUTF8("ok\xffok", 10)
	require.True(t, utf8.ValidString(out))
	require.Equal(t, "okok", out)
}

func TestShortForm(t *testing.T) {
	require.Equal(t, "Bob", ShortForm("Bob", 3))
	require.Equal(t, "Ali", ShortForm("Alice", 3))
	require.Equal(t, "Żół", ShortForm("Żółw", 3))
	require.Equal(t, "Alice", ShortForm("Alice", 0))
	require.Equal(t, "", ShortForm("", 3))
}

func TestLabels(t *testing.T) {
	require.Equal(t, "Bob/MeshB", RemoteLabel("Bob", "MeshB", 3, 5))
	require.Equal(t, "Rob/LongM", RemoteLabel("Robert", "LongMeshName", 3, 5))
	require.Equal(t, "Alice[M]", LocalLabel("Alice Smith", 5))
}

func TestFormatChatToRadio(t *testing.T) {
	require.Equal(t, "Bob/MeshB: yo", FormatChatToRadio("Bob/MeshB", "yo"))
	require.Equal(t, "Bob/MeshB: yo", FormatChatToRadio("Bob/MeshB", "Bob/MeshB: yo"))
	require.Equal(t, "yo", FormatChatToRadio("", "yo"))
}
