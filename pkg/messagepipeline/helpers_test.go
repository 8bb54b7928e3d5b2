package messagepipeline_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
)

func sanitizedTestName(t *testing.T) string {
	name := t.Name()
	reg := regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	sanitized := reg.ReplaceAllString(name, "-")
	sanitized = regexp.MustCompile(`^-+|-+$`).ReplaceAllString(sanitized, "")
	if len(sanitized) > 20 {
		sanitized = sanitized[:20]
	}
	return sanitized
}

func macMessage(mac, content string) types.GatewayMessage {
	return types.GatewayMessage{
		Properties: types.NewProperties(types.Property{Key: types.PropMacAddress, Value: mac}),
		Content:    []byte(content),
	}
}

// mockStage records what it receives and can be told to fail.
type mockStage struct {
	mu          sync.Mutex
	received    []types.GatewayMessage
	destroyed   int
	failContent string
	onDestroy   func()
	// block, when set, holds Receive until it is closed.
	block chan struct{}
	// destroyCtxErr is the context error seen by the last Destroy call.
	destroyCtxErr error
}

func (s *mockStage) Receive(_ context.Context, msg types.GatewayMessage) error {
	if s.block != nil {
		<-s.block
	}
	if s.failContent != "" && string(msg.Content) == s.failContent {
		return errors.New("stage failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	return nil
}

func (s *mockStage) Destroy(ctx context.Context) error {
	s.mu.Lock()
	s.destroyed++
	s.destroyCtxErr = ctx.Err()
	hook := s.onDestroy
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (s *mockStage) receivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *mockStage) destroyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// messageState tracks the Ack/Nack status for individual messages.
type messageState struct {
	mu         sync.Mutex
	ackCalled  bool
	nackCalled bool
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled = true
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled = true
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled
}

// mockConsumer is a MessageConsumer fed by the test.
type mockConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func newMockConsumer(bufferSize int) *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }

func (m *mockConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *mockConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

func (m *mockConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *mockConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

func (m *mockConsumer) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}
