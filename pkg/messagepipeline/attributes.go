package messagepipeline

import (
	"fmt"
	"sort"

	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

// ToAttributes flattens properties into string attributes for brokers, such as
// Pub/Sub, that only carry string metadata. Nil values are dropped.
func ToAttributes(props *types.Properties) map[string]string {
	attrs := make(map[string]string, props.Len())
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		switch v := value.(type) {
		case nil:
			continue
		case string:
			attrs[key] = v
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs
}

// FromAttributes rebuilds properties from broker attributes. Keys are ordered
// alphabetically since attribute maps carry no order. The batched flag is
// restored as a boolean so the shredder recognises frames.
func FromAttributes(attrs map[string]string) *types.Properties {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	props := types.NewProperties()
	for _, key := range keys {
		value := attrs[key]
		if key == types.PropBatched {
			props.Set(key, value == "true")
			continue
		}
		props.Set(key, value)
	}
	return props
}
