package media

import "sync"

// Broadcaster fans one incoming PCM frame stream out to every consumer
// that needs it: the level meter, calibration, and transcription all read
// the same microphone without competing for it. Slow consumers lose
// frames rather than stalling the stream.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan []byte
	nextID int
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan []byte)}
}

// Subscribe registers a consumer. The returned cancel func must be called
// when the consumer is done; the channel is closed on cancel or Close.
func (b *Broadcaster) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan []byte, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers a frame to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broadcaster) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close shuts every subscriber channel. Further publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
