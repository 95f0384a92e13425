package transport

import "sync"

const subscriberChannelBuffer = 32

// subscriberRegistry fans live events out to every open SSE connection for
// a stream, in addition to the durable record each event already has in an
// [EventStore].
type subscriberRegistry struct {
	mu   sync.Mutex
	subs map[string][]chan storedEvent
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{subs: make(map[string][]chan storedEvent)}
}

// subscribe registers a new channel for streamID and returns it.
func (r *subscriberRegistry) subscribe(streamID string) chan storedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan storedEvent, subscriberChannelBuffer)
	r.subs[streamID] = append(r.subs[streamID], ch)
	return ch
}

// unsubscribe removes ch from streamID's subscriber list and closes it.
func (r *subscriberRegistry) unsubscribe(streamID string, ch chan storedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chans := r.subs[streamID]
	for i, c := range chans {
		if c == ch {
			r.subs[streamID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	close(ch)
}

// publish delivers ev to every current subscriber of streamID. A
// subscriber whose buffer is full is skipped rather than blocking the
// publisher — a slow SSE reader never stalls message submission.
func (r *subscriberRegistry) publish(streamID string, ev storedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[streamID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeStream closes and removes every subscriber channel for streamID,
// used when a session is deleted.
func (r *subscriberRegistry) closeStream(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[streamID] {
		close(ch)
	}
	delete(r.subs, streamID)
}
