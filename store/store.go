package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"lanchat/logger"
	"lanchat/models"

	"golang.org/x/crypto/bcrypt"
)

const (
	MaxIDLength       = 64
	MaxNicknameLength = 32
	MaxGroupName      = 32
)

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrEmptyName       = errors.New("name is empty")
	ErrNameTooLong     = errors.New("name too long")
	ErrEmptyPassword   = errors.New("password is empty")
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrWrongPassword   = errors.New("wrong password")
	ErrGroupExists     = errors.New("group already exists")
	ErrGroupNotFound   = errors.New("group not found")
	ErrNotMember       = errors.New("not a group member")
	ErrSelfFriend      = errors.New("cannot befriend yourself")
	ErrAlreadyFriends  = errors.New("already friends")
)

// Persistence is the durable side of the store. Calls are synchronous and
// best effort: a failure is reported but never undoes in-memory state.
type Persistence interface {
	LoadAccounts() (map[string]*models.Account, error)
	LoadGroups() (map[string]*models.Group, error)
	SaveAccounts(map[string]*models.Account) error
	SaveGroups(map[string]*models.Group) error
	AppendChatLine(conversationID, line string) error
	LoadChatHistory(conversationID string) ([]string, error)
	ClearChatHistory(conversationID string) error
}

type Options struct {
	BcryptCost int
	Log        *logger.Logger
}

type account struct {
	id        string
	nickname  string
	password  string
	friends   map[string]struct{}
	email     string
	birthday  string
	address   string
	signature string
}

type group struct {
	id    string
	name  string
	owner string
}

// Store is the authoritative in-memory state of accounts, groups and
// memberships. Every method is atomic with respect to the others.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*account
	groups      map[string]*group
	memberships map[models.MembershipKey]models.GroupMembership
	byGroup     map[string]map[string]struct{}
	byAccount   map[string]map[string]struct{}

	persist    Persistence
	bcryptCost int
	log        *logger.Logger
	now        func() time.Time
}

func New(persist Persistence, opts Options) *Store {
	if persist == nil {
		persist = NewMemory()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	return &Store{
		accounts:    make(map[string]*account),
		groups:      make(map[string]*group),
		memberships: make(map[models.MembershipKey]models.GroupMembership),
		byGroup:     make(map[string]map[string]struct{}),
		byAccount:   make(map[string]map[string]struct{}),
		persist:     persist,
		bcryptCost:  opts.BcryptCost,
		log:         opts.Log,
		now:         time.Now,
	}
}

// Load replaces the in-memory state with what the persistence layer holds.
// Memberships naming unknown accounts or groups are dropped.
func (s *Store) Load() error {
	accounts, err := s.persist.LoadAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	groups, err := s.persist.LoadGroups()
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*account, len(accounts))
	s.groups = make(map[string]*group, len(groups))
	s.memberships = make(map[models.MembershipKey]models.GroupMembership)
	s.byGroup = make(map[string]map[string]struct{})
	s.byAccount = make(map[string]map[string]struct{})

	for id, a := range accounts {
		acc := &account{
			id:        id,
			nickname:  a.Nickname,
			password:  a.Password,
			friends:   make(map[string]struct{}),
			email:     a.Email,
			birthday:  a.Birthday,
			address:   a.Address,
			signature: a.Signature,
		}
		s.accounts[id] = acc
	}
	for id, a := range accounts {
		for _, friend := range a.FriendIDs {
			if other, ok := s.accounts[friend]; ok && friend != id {
				s.accounts[id].friends[friend] = struct{}{}
				other.friends[id] = struct{}{}
			}
		}
	}

	for id, g := range groups {
		s.groups[id] = &group{id: id, name: g.Name, owner: g.Owner}
		for _, m := range g.Members {
			if _, ok := s.accounts[m.AccountID]; !ok {
				s.log.Warn("dropping membership of unknown account %s in group %s", m.AccountID, id)
				continue
			}
			m.GroupID = id
			s.addMembershipLocked(m)
		}
		if len(s.byGroup[id]) == 0 {
			s.log.Warn("dropping empty group %s", id)
			delete(s.groups, id)
			continue
		}
		if !s.isMemberLocked(id, g.Owner) {
			s.groups[id].owner = s.sortedMembersLocked(id)[0]
		}
	}

	s.log.Info("loaded %d accounts, %d groups", len(s.accounts), len(s.groups))
	return nil
}

// Save writes a snapshot of accounts and groups to the persistence layer.
func (s *Store) Save() error {
	s.mu.RLock()
	accounts := make(map[string]*models.Account, len(s.accounts))
	for id, a := range s.accounts {
		acc := s.accountLocked(a)
		accounts[id] = &acc
	}
	groups := make(map[string]*models.Group, len(s.groups))
	for id, g := range s.groups {
		snap := s.groupLocked(g)
		groups[id] = &snap
	}
	s.mu.RUnlock()

	if err := s.persist.SaveAccounts(accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	if err := s.persist.SaveGroups(groups); err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	return nil
}

// AppendChatLine records a line in a group's history.
func (s *Store) AppendChatLine(groupID, line string) error {
	return s.persist.AppendChatLine(groupID, line)
}

func (s *Store) ChatHistory(groupID string) ([]string, error) {
	return s.persist.LoadChatHistory(groupID)
}

// ClearChatHistory drops a deleted group's history so a new group created
// under the same id starts empty.
func (s *Store) ClearChatHistory(groupID string) error {
	return s.persist.ClearChatHistory(groupID)
}

// ValidateID checks account and group ids: non-empty, bounded, and free of
// whitespace and control characters.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength || !utf8.ValidString(id) {
		return ErrInvalidID
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidID
		}
	}
	return nil
}

func validateName(name string, max int) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > max {
		return ErrNameTooLong
	}
	return nil
}

// ValidateNickname reports ErrEmptyName or ErrNameTooLong.
func ValidateNickname(nickname string) error {
	return validateName(nickname, MaxNicknameLength)
}

func (s *Store) CreateAccount(id, nickname, password string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ValidateNickname(nickname); err != nil {
		return err
	}
	if password == "" {
		return ErrEmptyPassword
	}
	if id == models.ServerAccount {
		return ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; ok {
		return ErrAccountExists
	}
	s.accounts[id] = &account{
		id:       id,
		nickname: nickname,
		password: string(hash),
		friends:  make(map[string]struct{}),
	}
	return nil
}

// Authenticate checks a password against the stored hash.
func (s *Store) Authenticate(id, password string) error {
	s.mu.RLock()
	a, ok := s.accounts[id]
	var hash string
	if ok {
		hash = a.password
	}
	s.mu.RUnlock()

	if !ok {
		return ErrAccountNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

func (s *Store) AccountExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}

// Account returns a safe copy of the account, without the password hash.
func (s *Store) Account(id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return s.accountLocked(a).SafeCopy(), nil
}

// Nickname returns the nickname of id, or id itself for unknown accounts.
func (s *Store) Nickname(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		return a.nickname
	}
	return id
}

// Names maps every account id to its nickname.
func (s *Store) Names() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]string, len(s.accounts))
	for id, a := range s.accounts {
		names[id] = a.nickname
	}
	return names
}

// Profiles returns a safe copy of every account.
func (s *Store) Profiles() map[string]models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make(map[string]models.Account, len(s.accounts))
	for id, a := range s.accounts {
		profiles[id] = s.accountLocked(a).SafeCopy()
	}
	return profiles
}

func (s *Store) UpdateNickname(id, nickname string) error {
	if err := ValidateNickname(nickname); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.nickname = nickname
	return nil
}

func (s *Store) UpdatePassword(id, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.password = string(hash)
	return nil
}

// UpdateProfile replaces the free-form profile fields and, when non-empty,
// the nickname. Friends, groups and the password are not touched.
func (s *Store) UpdateProfile(p models.Account) (models.Account, error) {
	if p.Nickname != "" {
		if err := ValidateNickname(p.Nickname); err != nil {
			return models.Account{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.ID]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	if p.Nickname != "" {
		a.nickname = p.Nickname
	}
	a.email = p.Email
	a.birthday = p.Birthday
	a.address = p.Address
	a.signature = p.Signature
	return s.accountLocked(a).SafeCopy(), nil
}

// DeleteAccount removes the account and everything that refers to it. It
// returns the groups that survived with one member fewer, and the ids of
// groups that became empty and were deleted.
func (s *Store) DeleteAccount(id string) ([]models.Group, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}

	var affected []models.Group
	var deleted []string
	for _, gid := range sortedSet(s.byAccount[id]) {
		snap, gone := s.removeMemberLocked(gid, id)
		if gone {
			deleted = append(deleted, gid)
		} else {
			affected = append(affected, snap)
		}
	}

	for friend := range a.friends {
		if other, ok := s.accounts[friend]; ok {
			delete(other.friends, id)
		}
	}
	delete(s.accounts, id)
	delete(s.byAccount, id)

	return affected, deleted, nil
}

// AddFriendship links two accounts in both directions.
func (s *Store) AddFriendship(a, b string) error {
	if a == b {
		return ErrSelfFriend
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accA, okA := s.accounts[a]
	accB, okB := s.accounts[b]
	if !okA || !okB {
		return ErrAccountNotFound
	}
	if _, ok := accA.friends[b]; ok {
		return ErrAlreadyFriends
	}
	accA.friends[b] = struct{}{}
	accB.friends[a] = struct{}{}
	return nil
}

func (s *Store) AreFriends(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[a]
	if !ok {
		return false
	}
	_, ok = acc.friends[b]
	return ok
}

// CreateGroup creates a group whose only member and owner is owner.
func (s *Store) CreateGroup(id, name, owner string) (models.Group, error) {
	if err := ValidateID(id); err != nil {
		return models.Group{}, err
	}
	if err := validateName(name, MaxGroupName); err != nil {
		return models.Group{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[owner]; !ok {
		return models.Group{}, ErrAccountNotFound
	}
	if _, ok := s.groups[id]; ok {
		return models.Group{}, ErrGroupExists
	}
	g := &group{id: id, name: name, owner: owner}
	s.groups[id] = g
	s.addMembershipLocked(models.GroupMembership{GroupID: id, AccountID: owner, JoinedAt: s.now()})
	return s.groupLocked(g), nil
}

func (s *Store) Group(id string) (models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	return s.groupLocked(g), nil
}

// GroupMembers returns a snapshot of the member ids, ordered. An unknown
// group has no members.
func (s *Store) GroupMembers(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMembersLocked(id)
}

func (s *Store) IsMember(groupID, accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMemberLocked(groupID, accountID)
}

// AddMember adds accountID to the group. added is false when the account
// was already a member; the snapshot is returned either way.
func (s *Store) AddMember(groupID, accountID string) (models.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return models.Group{}, false, ErrGroupNotFound
	}
	if _, ok := s.accounts[accountID]; !ok {
		return models.Group{}, false, ErrAccountNotFound
	}
	if s.isMemberLocked(groupID, accountID) {
		return s.groupLocked(g), false, nil
	}
	s.addMembershipLocked(models.GroupMembership{GroupID: groupID, AccountID: accountID, JoinedAt: s.now()})
	return s.groupLocked(g), true, nil
}

// RemoveMember removes accountID from the group. A group left without
// members is deleted; an owner who leaves hands ownership to the first
// remaining member.
func (s *Store) RemoveMember(groupID, accountID string) (models.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return models.Group{}, false, ErrGroupNotFound
	}
	if !s.isMemberLocked(groupID, accountID) {
		return models.Group{}, false, ErrNotMember
	}
	snap, deleted := s.removeMemberLocked(groupID, accountID)
	return snap, deleted, nil
}

// DeleteGroup removes the group and all its memberships and returns the
// group as it was.
func (s *Store) DeleteGroup(id string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	snap := s.groupLocked(g)
	for member := range s.byGroup[id] {
		s.dropMembershipLocked(id, member)
	}
	delete(s.groups, id)
	delete(s.byGroup, id)
	return snap, nil
}

func (s *Store) RenameGroup(id, name string) (models.Group, error) {
	if err := validateName(name, MaxGroupName); err != nil {
		return models.Group{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	g.name = name
	return s.groupLocked(g), nil
}

// SetGroupOwner hands the group to owner, who must already be a member.
func (s *Store) SetGroupOwner(id, owner string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	if !s.isMemberLocked(id, owner) {
		return models.Group{}, ErrNotMember
	}
	g.owner = owner
	return s.groupLocked(g), nil
}

// GroupsOf returns snapshots of every group the account belongs to.
func (s *Store) GroupsOf(accountID string) []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := sortedSet(s.byAccount[accountID])
	groups := make([]models.Group, 0, len(ids))
	for _, gid := range ids {
		if g, ok := s.groups[gid]; ok {
			groups = append(groups, s.groupLocked(g))
		}
	}
	return groups
}

// AllGroups returns snapshots of every group ordered by id.
func (s *Store) AllGroups() []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, s.groupLocked(g))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// Counts reports the number of accounts, groups and memberships.
func (s *Store) Counts() (accounts, groups, memberships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), len(s.groups), len(s.memberships)
}

func (s *Store) isMemberLocked(groupID, accountID string) bool {
	_, ok := s.memberships[models.MembershipKey{GroupID: groupID, AccountID: accountID}]
	return ok
}

func (s *Store) addMembershipLocked(m models.GroupMembership) {
	s.memberships[m.Key()] = m
	if s.byGroup[m.GroupID] == nil {
		s.byGroup[m.GroupID] = make(map[string]struct{})
	}
	s.byGroup[m.GroupID][m.AccountID] = struct{}{}
	if s.byAccount[m.AccountID] == nil {
		s.byAccount[m.AccountID] = make(map[string]struct{})
	}
	s.byAccount[m.AccountID][m.GroupID] = struct{}{}
}

func (s *Store) dropMembershipLocked(groupID, accountID string) {
	delete(s.memberships, models.MembershipKey{GroupID: groupID, AccountID: accountID})
	delete(s.byGroup[groupID], accountID)
	delete(s.byAccount[accountID], groupID)
	if len(s.byAccount[accountID]) == 0 {
		delete(s.byAccount, accountID)
	}
}

func (s *Store) removeMemberLocked(groupID, accountID string) (models.Group, bool) {
	g := s.groups[groupID]
	s.dropMembershipLocked(groupID, accountID)

	if len(s.byGroup[groupID]) == 0 {
		snap := models.Group{ID: g.id, Name: g.name, Owner: g.owner}
		delete(s.groups, groupID)
		delete(s.byGroup, groupID)
		return snap, true
	}
	if g.owner == accountID {
		g.owner = s.sortedMembersLocked(groupID)[0]
	}
	return s.groupLocked(g), false
}

func (s *Store) sortedMembersLocked(groupID string) []string {
	return sortedSet(s.byGroup[groupID])
}

func (s *Store) groupLocked(g *group) models.Group {
	ids := s.sortedMembersLocked(g.id)
	members := make([]models.GroupMembership, 0, len(ids))
	for _, id := range ids {
		members = append(members, s.memberships[models.MembershipKey{GroupID: g.id, AccountID: id}])
	}
	return models.Group{ID: g.id, Name: g.name, Owner: g.owner, Members: members}
}

func (s *Store) accountLocked(a *account) models.Account {
	return models.Account{
		ID:        a.id,
		Nickname:  a.nickname,
		Password:  a.password,
		FriendIDs: sortedSet(a.friends),
		GroupIDs:  sortedSet(s.byAccount[a.id]),
		Email:     a.email,
		Birthday:  a.birthday,
		Address:   a.address,
		Signature: a.signature,
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
