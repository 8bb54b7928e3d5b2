package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Recognised property names. A message exposes its identity under either
// PropMacAddress or PropDeviceID depending on where it sits relative to the
// identity-mapping stage of the gateway.
const (
	PropMacAddress = "macAddress"
	PropDeviceID   = "deviceId"
	PropDeviceKey  = "deviceKey"
	PropBatched    = "batched"
)

// Property is a single key/value pair, used to build Properties in order.
type Property struct {
	Key   string
	Value interface{}
}

// Properties is an insertion-ordered, string-keyed property bag. Values are
// expected to be JSON scalars (string, bool, number or nil). The order of keys
// is preserved through JSON encoding and decoding so that serialized frames are
// reproducible byte for byte.
//
// A nil *Properties behaves as an empty, read-only bag.
type Properties struct {
	keys   []string
	values map[string]interface{}
}

// NewProperties creates a property bag holding the given pairs in order.
func NewProperties(props ...Property) *Properties {
	p := &Properties{
		keys:   make([]string, 0, len(props)),
		values: make(map[string]interface{}, len(props)),
	}
	for _, prop := range props {
		p.Set(prop.Key, prop.Value)
	}
	return p
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns a copy of the keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key. Existing keys keep their position. Go numeric
// values are stored as json.Number so a bag compares equal to its decoded form.
func (p *Properties) Set(key string, value interface{}) {
	if p.values == nil {
		p.values = make(map[string]interface{})
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = normalizeNumber(value)
}

// normalizeNumber renders Go numbers in their JSON form. Values json cannot
// encode, such as NaN, are kept as they are and fail at encode time.
func normalizeNumber(value interface{}) interface{} {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
	default:
		return value
	}
	var buf bytes.Buffer
	if err := WriteJSONValue(&buf, value); err != nil {
		return value
	}
	return json.Number(buf.String())
}

// Delete removes key if present.
func (p *Properties) Delete(key string) {
	if p == nil {
		return
	}
	if _, exists := p.values[key]; !exists {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy. Cloning a nil bag yields an empty one.
func (p *Properties) Clone() *Properties {
	out := &Properties{
		keys:   make([]string, 0, p.Len()),
		values: make(map[string]interface{}, p.Len()),
	}
	if p == nil {
		return out
	}
	out.keys = append(out.keys, p.keys...)
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}

// String returns the value under key when it is a non-empty string.
func (p *Properties) String(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MacAddress returns the hardware-address identity, if any.
func (p *Properties) MacAddress() (string, bool) { return p.identity(PropMacAddress) }

// DeviceID returns the logical device identity, if any.
func (p *Properties) DeviceID() (string, bool) { return p.identity(PropDeviceID) }

// identity returns a non-empty string, or a non-zero number in its decimal
// form. Other values are not identities.
func (p *Properties) identity(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		if f, err := id.Float64(); err != nil || f == 0 {
			return "", false
		}
		return id.String(), true
	default:
		return "", false
	}
}

// Batched reports whether the bag carries batched=true. Only the boolean true
// counts; the string "true" does not.
func (p *Properties) Batched() bool {
	v, ok := p.Get(PropBatched)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// MarshalJSON writes the properties as a JSON object in insertion order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON appends the JSON object form of the bag to buf. HTML characters
// are not escaped.
func (p *Properties) WriteJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range p.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := WriteJSONValue(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := WriteJSONValue(buf, p.values[key]); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers are kept as
// json.Number so they re-encode exactly as received.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties must be a JSON object, got %v", tok)
	}

	p.keys = make([]string, 0)
	p.values = make(map[string]interface{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key %v", keyTok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		p.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// WriteJSONValue encodes v onto buf without HTML escaping and without the
// trailing newline json.Encoder adds.
func WriteJSONValue(buf *bytes.Buffer, v interface{}) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	writeUnescapedSeparators(buf, bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// writeUnescapedSeparators copies encoded JSON onto buf, turning the \u2028
// and \u2029 escapes encoding/json always emits back into the raw characters.
// An escaped backslash is copied as a pair so "\\u2028" stays literal text.
func writeUnescapedSeparators(buf *bytes.Buffer, encoded []byte) {
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '\\' || i+1 >= len(encoded) {
			buf.WriteByte(c)
			continue
		}
		if encoded[i+1] == 'u' && i+6 <= len(encoded) {
			switch string(encoded[i+2 : i+6]) {
			case "2028":
				buf.WriteRune('\u2028')
				i += 5
				continue
			case "2029":
				buf.WriteRune('\u2029')
				i += 5
				continue
			}
		}
		buf.WriteByte(c)
		buf.WriteByte(encoded[i+1])
		i++
	}
}
