package protocol

import "lanchat/models"

// Envelope is the single message type exchanged between client and server.
// TargetID is a group id or a peer id depending on the operation.
type Envelope struct {
	Operation Operation `json:"op"`
	SenderID  string    `json:"sender,omitempty"`
	TargetID  string    `json:"target,omitempty"`
	Data      *Payload  `json:"data,omitempty"`
}

type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindPair     PayloadKind = "pair"
	KindNames    PayloadKind = "names"
	KindProfiles PayloadKind = "profiles"
	KindProfile  PayloadKind = "profile"
	KindGroup    PayloadKind = "group"
	KindLines    PayloadKind = "lines"
)

// Payload is the polymorphic envelope body. Exactly the field matching Kind
// is set; a nil *Payload is the null payload.
type Payload struct {
	Kind     PayloadKind        `json:"kind"`
	Text     string             `json:"text,omitempty"`
	Pair     *[2]string         `json:"pair,omitempty"`
	Names    map[string]string  `json:"names,omitempty"`
	Profiles map[string]Profile `json:"profiles,omitempty"`
	Profile  *Profile           `json:"profile,omitempty"`
	Group    *GroupSnapshot     `json:"group,omitempty"`
	Lines    []string           `json:"lines,omitempty"`
}

// Profile is the password-free view of an account.
type Profile struct {
	ID        string   `json:"id"`
	Nickname  string   `json:"nickname"`
	FriendIDs []string `json:"friends,omitempty"`
	GroupIDs  []string `json:"groups,omitempty"`
	Email     string   `json:"email,omitempty"`
	Birthday  string   `json:"birthday,omitempty"`
	Address   string   `json:"address,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

type GroupSnapshot struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

func Text(s string) *Payload { return &Payload{Kind: KindText, Text: s} }

func Pair(first, second string) *Payload {
	return &Payload{Kind: KindPair, Pair: &[2]string{first, second}}
}

func Names(m map[string]string) *Payload {
	if m == nil {
		m = map[string]string{}
	}
	return &Payload{Kind: KindNames, Names: m}
}

func Profiles(m map[string]Profile) *Payload {
	if m == nil {
		m = map[string]Profile{}
	}
	return &Payload{Kind: KindProfiles, Profiles: m}
}

func ProfileData(p Profile) *Payload { return &Payload{Kind: KindProfile, Profile: &p} }

func Group(g GroupSnapshot) *Payload { return &Payload{Kind: KindGroup, Group: &g} }

func Lines(lines []string) *Payload {
	if lines == nil {
		lines = []string{}
	}
	return &Payload{Kind: KindLines, Lines: lines}
}

// AsText returns the text body, or false when the payload is not text.
func (p *Payload) AsText() (string, bool) {
	if p == nil || p.Kind != KindText {
		return "", false
	}
	return p.Text, true
}

func (p *Payload) AsPair() (string, string, bool) {
	if p == nil || p.Kind != KindPair || p.Pair == nil {
		return "", "", false
	}
	return p.Pair[0], p.Pair[1], true
}

func (p *Payload) AsProfile() (Profile, bool) {
	if p == nil || p.Kind != KindProfile || p.Profile == nil {
		return Profile{}, false
	}
	return *p.Profile, true
}

func (p *Payload) AsGroup() (GroupSnapshot, bool) {
	if p == nil || p.Kind != KindGroup || p.Group == nil {
		return GroupSnapshot{}, false
	}
	return *p.Group, true
}

// ServerResponse builds an envelope sent on behalf of the server.
func ServerResponse(op Operation) Envelope {
	return Envelope{Operation: op, SenderID: models.ServerAccount}
}

// ServerText builds a server envelope carrying a text body.
func ServerText(op Operation, text string) Envelope {
	return Envelope{Operation: op, SenderID: models.ServerAccount, Data: Text(text)}
}

func ProfileOf(a models.Account) Profile {
	safe := a.SafeCopy()
	return Profile{
		ID:        safe.ID,
		Nickname:  safe.Nickname,
		FriendIDs: safe.FriendIDs,
		GroupIDs:  safe.GroupIDs,
		Email:     safe.Email,
		Birthday:  safe.Birthday,
		Address:   safe.Address,
		Signature: safe.Signature,
	}
}

func SnapshotOf(g models.Group) GroupSnapshot {
	return GroupSnapshot{
		ID:      g.ID,
		Name:    g.Name,
		Owner:   g.Owner,
		Members: g.MemberIDs(),
	}
}
