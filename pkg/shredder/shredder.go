// Package shredder expands batched frames back into the messages they carry.
package shredder

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

// Shred returns the messages carried by frame. Anything that is not a batched
// frame (no batched=true flag, no content, or content that parses to something
// other than an array) comes back unchanged as the only element. Content that
// is flagged as batched but does not parse is an error; it is never dropped
// silently.
func Shred(frame types.GatewayMessage) ([]types.GatewayMessage, error) {
	if !frame.Properties.Batched() || !frame.HasContent() {
		recordPassThrough()
		return []types.GatewayMessage{frame}, nil
	}

	msgs, err := framecodec.Decode(frame.Content)
	if errors.Is(err, framecodec.ErrNotABatch) {
		recordPassThrough()
		return []types.GatewayMessage{frame}, nil
	}
	if err != nil {
		recordDecodeError()
		return nil, fmt.Errorf("shredder: %w", err)
	}
	recordShredded(len(msgs))
	return msgs, nil
}
