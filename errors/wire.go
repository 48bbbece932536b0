package errors

import "encoding/json"

// MarshalJSON renders the §6.2 wire shape: name, message, socket, and any
// kind-specific fields flattened alongside them. Stack traces are never
// included.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["name"] = e.Kind
	out["message"] = e.Error()
	if e.Socket != "" {
		out["socket"] = e.Socket
	}
	if e.Event != "" {
		out["event"] = e.Event
	}
	return json.Marshal(out)
}
