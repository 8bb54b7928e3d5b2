// Package framecodec serializes an ordered group of gateway messages into a
// single frame payload and back.
//
// The payload is UTF-8 JSON: an array of objects, each holding a "properties"
// object and a "content" array of byte values (0-255). Byte content is written
// as numbers rather than base64 so the frame is self-describing to any JSON
// reader.
package framecodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

var (
	// ErrNotABatch is returned by Decode when the payload is valid JSON but its
	// top-level value is not an array.
	ErrNotABatch = errors.New("framecodec: payload is not a batch")
	// ErrMalformedFrame is returned when the payload cannot be parsed.
	ErrMalformedFrame = errors.New("framecodec: malformed frame")
)

// wireMessage is the decoding shape of one array element. Content is kept raw
// so that an absent field can be told apart from an empty array.
type wireMessage struct {
	Properties *types.Properties `json:"properties"`
	Content    json.RawMessage   `json:"content"`
}

// Encode serializes msgs in order.
func Encode(msgs []types.GatewayMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, msg := range msgs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMessage(&buf, msg); err != nil {
			return nil, fmt.Errorf("framecodec: encoding message %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Decode parses a frame payload produced by Encode. It returns ErrNotABatch
// when the payload parses to something other than an array, and an error
// wrapping ErrMalformedFrame when it does not parse at all.
func Decode(content []byte) ([]types.GatewayMessage, error) {
	var top json.RawMessage
	if err := json.Unmarshal(content, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if trimmed := bytes.TrimSpace(top); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotABatch
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(top, &elements); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	msgs := make([]types.GatewayMessage, 0, len(elements))
	for i, raw := range elements {
		msg, err := decodeElement(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrMalformedFrame, i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// EncodeMessage serializes a single message as one element object. Transports
// that cannot carry properties natively use it as an envelope.
func EncodeMessage(msg types.GatewayMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, msg); err != nil {
		return nil, fmt.Errorf("framecodec: encoding envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses an envelope produced by EncodeMessage.
func DecodeMessage(data []byte) (types.GatewayMessage, error) {
	msg, err := decodeElement(data)
	if err != nil {
		return types.GatewayMessage{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return msg, nil
}

func writeMessage(buf *bytes.Buffer, msg types.GatewayMessage) error {
	buf.WriteByte('{')
	wroteField := false
	if msg.Properties != nil {
		buf.WriteString(`"properties":`)
		if err := msg.Properties.WriteJSON(buf); err != nil {
			return err
		}
		wroteField = true
	}
	if msg.Content != nil {
		if wroteField {
			buf.WriteByte(',')
		}
		buf.WriteString(`"content":`)
		writeByteArray(buf, msg.Content)
	}
	buf.WriteByte('}')
	return nil
}

func writeByteArray(buf *bytes.Buffer, content []byte) {
	var scratch [3]byte
	buf.WriteByte('[')
	for i, b := range content {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(appendUint8(scratch[:0], b))
	}
	buf.WriteByte(']')
}

func appendUint8(dst []byte, b byte) []byte {
	if b >= 100 {
		dst = append(dst, '0'+b/100)
	}
	if b >= 10 {
		dst = append(dst, '0'+(b/10)%10)
	}
	return append(dst, '0'+b%10)
}

func decodeElement(raw json.RawMessage) (types.GatewayMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return types.GatewayMessage{}, errors.New("element is not an object")
	}
	var wire wireMessage
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return types.GatewayMessage{}, err
	}
	content, err := decodeContent(wire.Content)
	if err != nil {
		return types.GatewayMessage{}, err
	}
	return types.GatewayMessage{Properties: wire.Properties, Content: content}, nil
}

// decodeContent turns the raw content field back into bytes. An array of byte
// values is the canonical form; a JSON string is taken as its UTF-8 bytes.
func decodeContent(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	case '[':
		var values []int
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("content: byte value %d at index %d out of range", v, i)
			}
			out[i] = byte(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("content must be an array of byte values")
	}
}
