package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var pairingPhrases = []string{
	"pairing required",
	"not paired",
	"device not approved",
}

// pairingHint rewrites gateway error frames that ask for device pairing so
// the client sees where to get the device approved. Everything else passes
// through byte-for-byte. Errors mean "could not rewrite" and make the relay
// forward the original frame.
func pairingHint(message []byte, originHost string) ([]byte, error) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return message, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode gateway frame: %w", err)
	}
	rawErr, ok := envelope["error"]
	if !ok {
		return message, nil
	}

	var errObj map[string]any
	if err := json.Unmarshal(rawErr, &errObj); err != nil {
		return nil, fmt.Errorf("decode gateway error: %w", err)
	}
	msg, _ := errObj["message"].(string)
	if !mentionsPairing(msg) {
		return message, nil
	}

	errObj["hint"] = fmt.Sprintf("This device is not paired yet. An administrator can approve it at https://%s/admin.", originHost)
	rewritten, err := json.Marshal(errObj)
	if err != nil {
		return nil, err
	}
	envelope["error"] = rewritten
	return json.Marshal(envelope)
}

func mentionsPairing(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range pairingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
