package probe

import "encoding/json"

// marshalDetails encodes a details map into the opaque JSON blob ProbeResult
// carries; marshal failures are swallowed since details are best-effort.
func marshalDetails(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
