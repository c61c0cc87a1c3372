package store

import (
	"sync"

	"lanchat/models"
)

// Memory is a Persistence that keeps everything in process. It backs the
// store when no database is configured and in tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	groups   map[string]*models.Group
	history  map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*models.Account),
		groups:   make(map[string]*models.Group),
		history:  make(map[string][]string),
	}
}

func (m *Memory) LoadAccounts() (map[string]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*models.Account, len(m.accounts))
	for id, a := range m.accounts {
		c := *a
		c.FriendIDs = append([]string(nil), a.FriendIDs...)
		c.GroupIDs = append([]string(nil), a.GroupIDs...)
		out[id] = &c
	}
	return out, nil
}

func (m *Memory) LoadGroups() (map[string]*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*models.Group, len(m.groups))
	for id, g := range m.groups {
		c := *g
		c.Members = append([]models.GroupMembership(nil), g.Members...)
		out[id] = &c
	}
	return out, nil
}

func (m *Memory) SaveAccounts(accounts map[string]*models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
	return nil
}

func (m *Memory) SaveGroups(groups map[string]*models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = groups
	return nil
}

func (m *Memory) AppendChatLine(conversationID, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[conversationID] = append(m.history[conversationID], line)
	return nil
}

func (m *Memory) ClearChatHistory(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, conversationID)
	return nil
}

func (m *Memory) LoadChatHistory(conversationID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.history[conversationID]...), nil
}
