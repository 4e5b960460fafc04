package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus is the observable message bus. Every pipeline stage publishes through it.
// The Auditor and the Display each receive a read-only tap of every message.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.MessageType][]chan types.Message
	taps        []chan types.Message
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[types.MessageType][]chan types.Message),
	}
}

// Publish fans out msg to all subscribers of msg.Type and to every tap.
// Non-blocking: if a channel is full, the message is dropped with a warning.
// A nil Bus discards everything, so stages can run without one.
func (b *Bus) Publish(msg types.Message) {
	if b == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[msg.Type]
	taps := b.taps
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: subscriber channel full for type=%s from=%s, message dropped", msg.Type, msg.From)
		}
	}

	// Taps are observers; never let them stall the pipeline.
	for _, ch := range taps {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: tap channel full, message dropped type=%s", msg.Type)
		}
	}
}

// Emit is shorthand for publishing a payload between two roles.
func (b *Bus) Emit(from, to types.Role, t types.MessageType, payload any) {
	b.Publish(types.Message{From: from, To: to, Type: t, Payload: payload})
}

// Subscribe returns a receive-only channel that delivers messages of type t.
// Each call creates a new independent subscriber channel.
func (b *Bus) Subscribe(t types.MessageType) <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], ch)
	b.mu.Unlock()
	return ch
}

// NewTap returns a fresh read-only channel receiving every published message.
func (b *Bus) NewTap() <-chan types.Message {
	ch := make(chan types.Message, tapBufSize)
	b.mu.Lock()
	b.taps = append(b.taps, ch)
	b.mu.Unlock()
	return ch
}
