package store

import "encoding/json"

// docArg returns doc as a string for a JSON column, substituting empty when
// the document is absent. Documents are stored verbatim.
func docArg(doc json.RawMessage, empty string) string {
	if len(doc) == 0 {
		return empty
	}
	return string(doc)
}

// docValue copies a scanned JSON column into a RawMessage.
func docValue(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
