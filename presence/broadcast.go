package presence

import (
	"lanchat/logger"
	"lanchat/protocol"
)

// MemberSource yields a snapshot of a group's member ids.
type MemberSource interface {
	GroupMembers(groupID string) []string
}

// Broadcaster fans envelopes out to online accounts. Recipients that are
// offline are skipped; a failed send is logged and never aborts the rest of
// the fan-out.
type Broadcaster struct {
	dir     *Directory
	members MemberSource
	log     *logger.Logger
}

func NewBroadcaster(dir *Directory, members MemberSource, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Discard()
	}
	return &Broadcaster{dir: dir, members: members, log: log}
}

func (b *Broadcaster) SendToSelf(ch Channel, env protocol.Envelope) error {
	return ch.Send(env)
}

// SendToUser delivers env to id if online. It reports whether a channel was
// found.
func (b *Broadcaster) SendToUser(id string, env protocol.Envelope) bool {
	ch, ok := b.dir.Lookup(id)
	if !ok {
		return false
	}
	if err := ch.Send(env); err != nil {
		b.log.Debug("send %s to %s: %v", env.Operation, id, err)
	}
	return true
}

func (b *Broadcaster) SendToIDList(ids []string, env protocol.Envelope) {
	for _, id := range ids {
		b.SendToUser(id, env)
	}
}

func (b *Broadcaster) SendToGroup(groupID string, env protocol.Envelope) {
	b.SendToIDList(b.members.GroupMembers(groupID), env)
}

func (b *Broadcaster) SendToGroupExceptSender(groupID, senderID string, env protocol.Envelope) {
	for _, id := range b.members.GroupMembers(groupID) {
		if id != senderID {
			b.SendToUser(id, env)
		}
	}
}

func (b *Broadcaster) SendToAll(env protocol.Envelope) {
	b.SendToIDList(b.dir.OnlineIDs(), env)
}

func (b *Broadcaster) SendToAllExcept(exceptID string, env protocol.Envelope) {
	for _, id := range b.dir.OnlineIDs() {
		if id != exceptID {
			b.SendToUser(id, env)
		}
	}
}
