package presence

import (
	"errors"
	"sync"
	"testing"

	"lanchat/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []protocol.Envelope
	fail bool
}

func (r *recorder) Send(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken")
	}
	r.got = append(r.got, env)
	return nil
}

func (r *recorder) ops() []protocol.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]protocol.Operation, 0, len(r.got))
	for _, env := range r.got {
		ops = append(ops, env.Operation)
	}
	return ops
}

// mutatingMembers hands out a snapshot and then changes its own state, the
// way a concurrent quit would.
type mutatingMembers struct {
	mu      sync.Mutex
	members map[string][]string
}

func (m *mutatingMembers) GroupMembers(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := append([]string(nil), m.members[groupID]...)
	m.members[groupID] = nil
	return snap
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	dir := NewDirectory()
	first, second := &recorder{}, &recorder{}

	require.NoError(t, dir.Register("bob01", first))
	assert.ErrorIs(t, dir.Register("bob01", second), ErrDuplicate)

	ch, ok := dir.Lookup("bob01")
	require.True(t, ok)
	assert.Same(t, first, ch)
	assert.Equal(t, 1, dir.Len())
}

func TestRemoveChannelOnlyRemovesOwnBinding(t *testing.T) {
	dir := NewDirectory()
	old, current := &recorder{}, &recorder{}

	require.NoError(t, dir.Register("bob01", current))
	assert.False(t, dir.RemoveChannel("bob01", old))
	assert.True(t, dir.IsOnline("bob01"))

	assert.True(t, dir.RemoveChannel("bob01", current))
	assert.False(t, dir.IsOnline("bob01"))

	dir.Remove("bob01")
	dir.Remove("bob01")
	assert.Zero(t, dir.Len())
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	dir := NewDirectory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dir.Register("carol1", &recorder{}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestBroadcastHelpers(t *testing.T) {
	dir := NewDirectory()
	alice, bob, carol := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, dir.Register("alice01", alice))
	require.NoError(t, dir.Register("bob01", bob))
	require.NoError(t, dir.Register("carol1", carol))

	members := &mutatingMembers{members: map[string][]string{
		"grp00001": {"alice01", "bob01", "dave01"},
	}}
	b := NewBroadcaster(dir, members, nil)

	b.SendToGroupExceptSender("grp00001", "alice01", protocol.Envelope{Operation: protocol.OpChat})
	assert.Empty(t, alice.ops())
	assert.Equal(t, []protocol.Operation{protocol.OpChat}, bob.ops())
	assert.Empty(t, carol.ops())

	b.SendToAllExcept("bob01", protocol.Envelope{Operation: protocol.OpInitUser})
	assert.Equal(t, []protocol.Operation{protocol.OpInitUser}, alice.ops())
	assert.Equal(t, []protocol.Operation{protocol.OpChat}, bob.ops())
	assert.Equal(t, []protocol.Operation{protocol.OpInitUser}, carol.ops())

	assert.False(t, b.SendToUser("dave01", protocol.Envelope{Operation: protocol.OpPrivateChat}))
	assert.True(t, b.SendToUser("carol1", protocol.Envelope{Operation: protocol.OpPrivateChat}))
	require.NoError(t, b.SendToSelf(carol, protocol.Envelope{Operation: protocol.OpInitGroup}))
	assert.Equal(t, []protocol.Operation{protocol.OpInitUser, protocol.OpPrivateChat, protocol.OpInitGroup}, carol.ops())
}

func TestGroupFanOutUsesSnapshot(t *testing.T) {
	dir := NewDirectory()
	alice, bob := &recorder{}, &recorder{}
	require.NoError(t, dir.Register("alice01", alice))
	require.NoError(t, dir.Register("bob01", bob))

	members := &mutatingMembers{members: map[string][]string{"grp00001": {"alice01", "bob01"}}}
	b := NewBroadcaster(dir, members, nil)

	b.SendToGroup("grp00001", protocol.Envelope{Operation: protocol.OpGroupUpdateName})
	assert.Len(t, alice.ops(), 1)
	assert.Len(t, bob.ops(), 1)

	b.SendToGroup("grp00001", protocol.Envelope{Operation: protocol.OpGroupUpdateName})
	assert.Len(t, alice.ops(), 1)
}

func TestFailedSendDoesNotStopFanOut(t *testing.T) {
	dir := NewDirectory()
	broken, ok := &recorder{fail: true}, &recorder{}
	require.NoError(t, dir.Register("alice01", broken))
	require.NoError(t, dir.Register("bob01", ok))

	b := NewBroadcaster(dir, &mutatingMembers{members: map[string][]string{}}, nil)
	b.SendToAll(protocol.Envelope{Operation: protocol.OpServerMessage})
	assert.Len(t, ok.ops(), 1)
}
