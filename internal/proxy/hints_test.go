package proxy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPairingHintAddsAdminPointer(t *testing.T) {
	out, err := pairingHint([]byte(`{"error":{"message":"Pairing required before use"}}`), "edge.example.com")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Hint    string `json:"hint"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Message != "Pairing required before use" {
		t.Errorf("original message lost: %q", envelope.Error.Message)
	}
	if !strings.Contains(envelope.Error.Hint, "https://edge.example.com/admin") {
		t.Errorf("hint = %q", envelope.Error.Hint)
	}
}

func TestPairingHintMatchesKnownPhrases(t *testing.T) {
	for _, phrase := range []string{"pairing required", "device NOT paired", "Device not approved yet"} {
		frame := []byte(`{"error":{"message":"` + phrase + `"}}`)
		out, err := pairingHint(frame, "host")
		if err != nil {
			t.Fatalf("%q: %v", phrase, err)
		}
		if !strings.Contains(string(out), "hint") {
			t.Errorf("%q: no hint added: %s", phrase, out)
		}
	}
}

func TestPairingHintPassthrough(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"non json text", "plain status line"},
		{"json array", `[1,2,3]`},
		{"object without error", `{"ok":true}`},
		{"error without pairing phrase", `{"error":{"message":"database timeout"}}`},
		{"non object error", `{"error":"nope"}`},
		{"empty frame", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := pairingHint([]byte(tc.frame), "host")
			if tc.name == "non object error" {
				// The error field is not an object; rewriting is impossible
				// and the relay falls back to the original frame.
				if err == nil {
					t.Fatal("expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("transform: %v", err)
			}
			if string(out) != tc.frame {
				t.Errorf("frame altered: %q -> %q", tc.frame, out)
			}
		})
	}
}

func TestPairingHintMalformedJSON(t *testing.T) {
	if _, err := pairingHint([]byte(`{"error":`), "host"); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}
