package batcher

import "github.com/illmade-knight/go-gateway-batcher/pkg/types"

// BufferedSpare returns the unused capacity of the buffer under key.
func (a *Aggregator) BufferedSpare(key string) []types.GatewayMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	queue := a.queues[key]
	return queue[len(queue):cap(queue)]
}
