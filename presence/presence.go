package presence

import (
	"errors"
	"sort"
	"sync"

	"lanchat/protocol"
)

var ErrDuplicate = errors.New("account already online")

// Channel is the outbound side of one live connection.
type Channel interface {
	Send(env protocol.Envelope) error
}

// Directory maps online account ids to their channel. At most one channel
// is registered per account.
type Directory struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewDirectory() *Directory {
	return &Directory{channels: make(map[string]Channel)}
}

func (d *Directory) Register(id string, ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.channels[id]; ok {
		return ErrDuplicate
	}
	d.channels[id] = ch
	return nil
}

// Remove drops id regardless of which channel it is bound to.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	delete(d.channels, id)
	d.mu.Unlock()
}

// RemoveChannel drops id only while it is still bound to ch, so a late
// teardown cannot evict a newer login.
func (d *Directory) RemoveChannel(id string, ch Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.channels[id]; ok && cur == ch {
		delete(d.channels, id)
		return true
	}
	return false
}

func (d *Directory) Lookup(id string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	return ch, ok
}

func (d *Directory) IsOnline(id string) bool {
	_, ok := d.Lookup(id)
	return ok
}

// OnlineIDs returns the online account ids, sorted.
func (d *Directory) OnlineIDs() []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.channels)
}
