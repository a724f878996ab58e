package meshtastic

import (
	"testing"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in      string
		want    NodeID
		wantErr bool
	}{
		{"!deadbeef", 0xdeadbeef, false},
		{"0x0000abcd", 0xabcd, false},
		{"deadbeef", 0xdeadbeef, false},
		{"1234", 1234, false},
		{"!zzzz", 0, true},
		{"", 0, true},
		{"!1ffffffff", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseNodeID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseNodeID(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNodeID(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNodeID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNodeIDString(t *testing.T) {
	if got := NodeID(0xabcd).String(); got != "!0000abcd" {
		t.Errorf("String() = %q", got)
	}
	if !NodeID(BROADCAST_ID).IsBroadcast() {
		t.Error("expected broadcast")
	}
}
