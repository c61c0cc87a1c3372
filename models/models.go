package models

import "time"

// ServerAccount is the sender id of every server-originated envelope. It can
// never be registered.
const ServerAccount = "admin"

type Account struct {
	ID        string
	Nickname  string
	Password  string // bcrypt hash; empty in safe copies
	FriendIDs []string
	GroupIDs  []string
	Email     string
	Birthday  string
	Address   string
	Signature string
}

// SafeCopy returns a copy without the password hash, suitable for the wire.
func (a Account) SafeCopy() Account {
	c := a
	c.Password = ""
	c.FriendIDs = append([]string(nil), a.FriendIDs...)
	c.GroupIDs = append([]string(nil), a.GroupIDs...)
	return c
}

type Group struct {
	ID      string
	Name    string
	Owner   string
	Members []GroupMembership // ordered by AccountID
}

// MemberIDs returns the member account ids in order.
func (g Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.AccountID)
	}
	return ids
}

// GroupMembership links one account to one group.
type GroupMembership struct {
	GroupID   string
	AccountID string
	JoinedAt  time.Time
}

type MembershipKey struct {
	GroupID   string
	AccountID string
}

func (m GroupMembership) Key() MembershipKey {
	return MembershipKey{GroupID: m.GroupID, AccountID: m.AccountID}
}
