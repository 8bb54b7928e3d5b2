package messagepipeline

import (
	"time"

	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

// Message is a gateway message as delivered by a consumer, together with the
// broker metadata and acknowledgment handles.
type Message struct {
	// GatewayMessage is the properties and content the stages operate on.
	types.GatewayMessage

	// ID is the broker's identifier for the message, when it has one.
	ID string

	// PublishTime is when the broker accepted the message.
	PublishTime time.Time

	// Ack signals that the message was handled and can be removed from the source.
	Ack func()

	// Nack signals that handling failed and the broker may redeliver it.
	Nack func()
}

func (m Message) ack() {
	if m.Ack != nil {
		m.Ack()
	}
}

func (m Message) nack() {
	if m.Nack != nil {
		m.Nack()
	}
}
