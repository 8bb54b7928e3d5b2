// Package types holds the message model shared by the batching and shredding
// stages and the transports that carry them.
package types

import (
	"bytes"
	"reflect"
)

// GatewayMessage is the unit that travels on the gateway bus. Properties carry
// identity fields and flags; Content is the raw payload. A nil Content means the
// message has no content at all, which is distinct from an empty payload.
type GatewayMessage struct {
	Properties *Properties
	Content    []byte
}

// HasContent reports whether the message carries a content field.
func (m GatewayMessage) HasContent() bool {
	return m.Content != nil
}

// Equal reports whether two messages carry the same properties, in the same
// order, and the same content.
func (m GatewayMessage) Equal(other GatewayMessage) bool {
	if (m.Content == nil) != (other.Content == nil) || !bytes.Equal(m.Content, other.Content) {
		return false
	}
	if m.Properties.Len() != other.Properties.Len() {
		return false
	}
	otherKeys := other.Properties.Keys()
	for i, key := range m.Properties.Keys() {
		if otherKeys[i] != key {
			return false
		}
		a, _ := m.Properties.Get(key)
		b, _ := other.Properties.Get(key)
		if !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}
