package relay

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageBytes is the largest text payload radios have been observed to
// accept; 228 bytes fails.
const DefaultMaxMessageBytes = 227

// FormatRadioToChat prefixes radio text with its provenance: "[longname/meshnet]: text".
func FormatRadioToChat(longname, meshnet, text string) string {
	return "[" + provenanceTag(longname, meshnet) + "]: " + text
}

func provenanceTag(longname, meshnet string) string {
	return longname + "/" + meshnet
}

// StripOwnPrefix removes a single leading "[tag]: " from text.
func StripOwnPrefix(text, tag string) string {
	if out, ok := strings.CutPrefix(text, "["+tag+"]: "); ok {
		return out
	}
	return text
}

// TruncateUTF8 limits text to maxBytes bytes without leaving a partial multi-byte
// sequence at the end. The result is always valid UTF-8.
func TruncateUTF8(text string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(text) <= maxBytes && utf8.ValidString(text) {
		return text
	}
	if len(text) > maxBytes {
		text = text[:maxBytes]
	}
	for len(text) > 0 {
		r, size := utf8.DecodeLastRuneInString(text)
		if r != utf8.RuneError || size > 1 {
			break
		}
		text = text[:len(text)-1]
	}
	return strings.ToValidUTF8(text, "")
}

// FormatChatToRadio renders "label: text", leaving text alone when it already
// carries the label.
func FormatChatToRadio(label, text string) string {
	prefix := label + ": "
	if label == "" || strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + text
}

// ShortForm returns the first n characters of s.
func ShortForm(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// RemoteLabel is the compact label for messages relayed from another meshnet.
func RemoteLabel(longname, meshnet string, longLen, meshLen int) string {
	return ShortForm(longname, longLen) + "/" + ShortForm(meshnet, meshLen)
}

// LocalLabel is the compact label for messages written by chat users.
func LocalLabel(displayName string, n int) string {
	return ShortForm(displayName, n) + "[M]"
}
