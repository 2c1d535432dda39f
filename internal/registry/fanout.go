package registry

import "sync"

// fanoutBacklog bounds how many unread updates a subscriber may queue
// before it is dropped rather than allowed to block the publisher.
const fanoutBacklog = 16

// fanout is the per-session broadcast channel of spec §3/§4.3: every
// locally-subscribed sink receives every update published after it
// subscribes. A slow subscriber loses the right to remain connected
// instead of blocking the publish.
type fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan any
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan any)}
}

// subscription is a handle a caller holds to receive updates and to
// unsubscribe when done.
type subscription struct {
	id int
	ch chan any
}

func (f *fanout) subscribe() *subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan any, fanoutBacklog)
	f.subs[id] = ch
	return &subscription{id: id, ch: ch}
}

func (f *fanout) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// publish sends payload to every current subscriber without blocking; a
// subscriber whose channel is full is closed and dropped.
func (f *fanout) publish(payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- payload:
		default:
			delete(f.subs, id)
			close(ch)
		}
	}
}

func (f *fanout) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe creates the session's fan-out on first subscription and
// returns a channel of updates plus a function to unsubscribe.
func (r *Registry) Subscribe(gameID string) (<-chan any, func()) {
	r.fanoutMu.Lock()
	fo, ok := r.fanouts[gameID]
	if !ok {
		fo = newFanout()
		r.fanouts[gameID] = fo
	}
	r.fanoutMu.Unlock()

	sub := fo.subscribe()
	return sub.ch, func() { fo.unsubscribe(sub.id) }
}

// Publish broadcasts payload to every locally-subscribed sink of gameID.
// Publishing to a session with no subscribers yet is a silent no-op; the
// fan-out is created lazily on first Subscribe.
func (r *Registry) Publish(gameID string, payload any) {
	r.fanoutMu.Lock()
	fo, ok := r.fanouts[gameID]
	r.fanoutMu.Unlock()
	if !ok {
		return
	}
	fo.publish(payload)
}

// DropFanout removes a session's fan-out entirely, closing every
// subscriber channel. Called when a session terminates and its game_id
// will never be published to again.
func (r *Registry) DropFanout(gameID string) {
	r.fanoutMu.Lock()
	fo, ok := r.fanouts[gameID]
	delete(r.fanouts, gameID)
	r.fanoutMu.Unlock()
	if !ok {
		return
	}
	fo.mu.Lock()
	defer fo.mu.Unlock()
	for id, ch := range fo.subs {
		delete(fo.subs, id)
		close(ch)
	}
}
