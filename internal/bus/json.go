package bus

import "encoding/json"

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeJSON unmarshals msg.Payload into v. Retained messages that fail to
// parse as JSON are returned verbatim by Retained/Subscribe — callers that
// need structured access call this explicitly.
func DecodeJSON(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
