package gateway

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject scans free-form command output for the first complete
// JSON object and returns it. CLI tools on the gateway print human text
// around their machine-readable payload, so this is a best-effort scan and
// callers must tolerate a miss.
func ExtractJSONObject(stdout string) (json.RawMessage, bool) {
	for offset := 0; offset < len(stdout); {
		start := strings.IndexByte(stdout[offset:], '{')
		if start < 0 {
			return nil, false
		}
		start += offset

		dec := json.NewDecoder(strings.NewReader(stdout[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			return raw, true
		}
		offset = start + 1
	}
	return nil, false
}
