// Package notification defines the notify contract the ledger consumes.
// Delivery mechanics belong to the surrounding platform; everything here is
// fire-and-forget and a failed notification never affects ledger state.
package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives human-readable events addressed to a platform account.
type Sink interface {
	Notify(ctx context.Context, recipient, text string) error
}

// LogSink writes notifications to the structured log. Default sink for
// embeddings that have not wired a real delivery channel.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, recipient, text string) error {
	s.log.Info().Str("recipient", recipient).Str("text", text).Msg("notification")
	return nil
}

// MemorySink collects notifications for inspection in tests.
type MemorySink struct {
	mu       sync.Mutex
	messages map[string][]string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{messages: make(map[string][]string)}
}

func (s *MemorySink) Notify(_ context.Context, recipient, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[recipient] = append(s.messages[recipient], text)
	return nil
}

// Sent returns the messages delivered to a recipient so far.
func (s *MemorySink) Sent(recipient string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.messages[recipient]...)
}
