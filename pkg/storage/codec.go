package storage

import "encoding/json"

// Values are stored as JSON so the database stays inspectable with pebble tooling.
func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// Decode unmarshals a raw value handed out by Scan.
func Decode(b []byte, v any) error {
	return decode(b, v)
}
