package server

import "sync"

type friendKey struct {
	from, to string
}

type inviteKey struct {
	groupID, invitee string
}

// pendingRequests remembers forwarded friend requests and group invites so
// that an agree only succeeds for something that was actually offered.
type pendingRequests struct {
	mu      sync.Mutex
	friends map[friendKey]struct{}
	invites map[inviteKey]string // -> inviter
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		friends: make(map[friendKey]struct{}),
		invites: make(map[inviteKey]string),
	}
}

func (p *pendingRequests) addFriend(from, to string) {
	p.mu.Lock()
	p.friends[friendKey{from, to}] = struct{}{}
	p.mu.Unlock()
}

func (p *pendingRequests) takeFriend(from, to string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := friendKey{from, to}
	if _, ok := p.friends[key]; !ok {
		return false
	}
	delete(p.friends, key)
	return true
}

func (p *pendingRequests) addInvite(groupID, invitee, inviter string) {
	p.mu.Lock()
	p.invites[inviteKey{groupID, invitee}] = inviter
	p.mu.Unlock()
}

func (p *pendingRequests) takeInvite(groupID, invitee string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := inviteKey{groupID, invitee}
	inviter, ok := p.invites[key]
	if ok {
		delete(p.invites, key)
	}
	return inviter, ok
}

// forget drops the requests addressed to id, whose client no longer holds
// them once it goes offline.
func (p *pendingRequests) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.friends {
		if key.to == id {
			delete(p.friends, key)
		}
	}
	for key := range p.invites {
		if key.invitee == id {
			delete(p.invites, key)
		}
	}
}

// forgetGroup drops invites into a group that no longer exists.
func (p *pendingRequests) forgetGroup(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.invites {
		if key.groupID == groupID {
			delete(p.invites, key)
		}
	}
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.friends) + len(p.invites)
}
