package logging

import (
	"container/ring"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultBufferSize is the number of recent log lines a new subscriber can
// be replayed from.
const DefaultBufferSize = 200

var broadcastWarnWriter io.Writer = os.Stderr

// LogBroadcaster fans written log lines out to live subscribers (e.g. an
// SSE log tail) while also functioning as a bounded ring buffer of recent
// output. It implements io.Writer so it can be one leg of a zerolog
// io.MultiWriter.
type LogBroadcaster struct {
	mu          sync.Mutex
	buffer      *ring.Ring
	subscribers map[string]chan string
}

func newLogBroadcaster() *LogBroadcaster {
	return &LogBroadcaster{
		buffer:      ring.New(DefaultBufferSize),
		subscribers: make(map[string]chan string),
	}
}

// Write appends line to the ring buffer and fans it out to subscribers.
// A subscriber whose channel is full never blocks the writer: the line is
// dropped for that subscriber and a warning is logged instead.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	line := string(p)

	b.mu.Lock()
	b.buffer.Value = line
	b.buffer = b.buffer.Next()
	for id, ch := range b.subscribers {
		select {
		case ch <- line:
		default:
			fmt.Fprintf(broadcastWarnWriter, "level=warn reason=subscriber_blocked subscriber_id=%s action=drop_message\n", id)
		}
	}
	b.mu.Unlock()

	return len(p), nil
}

// Subscribe registers a new subscriber and returns its channel, buffered to
// depth. Call Unsubscribe when the subscriber disconnects.
func (b *LogBroadcaster) Subscribe(id string, depth int) <-chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, depth)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *LogBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Recent returns up to DefaultBufferSize most recently written lines, in
// chronological order.
func (b *LogBroadcaster) Recent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	b.buffer.Do(func(v interface{}) {
		if v == nil {
			return
		}
		if line, ok := v.(string); ok {
			out = append(out, line)
		}
	})
	return out
}
