package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"lanchat/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite-backed persistence collaborator of the domain store.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			account_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			PRIMARY KEY (account_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (group_id, account_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			line TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_lines_conversation ON chat_lines(conversation_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_account ON group_members(account_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// profileColumns were added after the first schema; older files get them on open.
var profileColumns = []string{"email", "birthday", "address", "signature"}

func (db *DB) migrate() error {
	for _, column := range profileColumns {
		if db.columnExists("accounts", column) {
			continue
		}
		// SQLite doesn't support parameters in ALTER TABLE
		alterQuery := "ALTER TABLE accounts ADD COLUMN " + column + " TEXT NOT NULL DEFAULT ''"
		if _, err := db.conn.Exec(alterQuery); err != nil {
			return fmt.Errorf("add column %s: %w", column, err)
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// LoadAccounts returns every stored account with its friend and group ids.
func (db *DB) LoadAccounts() (map[string]*models.Account, error) {
	rows, err := db.conn.Query(
		"SELECT id, nickname, password, email, birthday, address, signature FROM accounts",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[string]*models.Account)
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Nickname, &a.Password, &a.Email, &a.Birthday, &a.Address, &a.Signature); err != nil {
			return nil, err
		}
		accounts[a.ID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadPairs("SELECT account_id, friend_id FROM friendships ORDER BY account_id, friend_id", func(id, friend string) {
		if a, ok := accounts[id]; ok {
			a.FriendIDs = append(a.FriendIDs, friend)
		}
	}); err != nil {
		return nil, err
	}

	if err := db.loadPairs("SELECT account_id, group_id FROM group_members ORDER BY account_id, group_id", func(id, group string) {
		if a, ok := accounts[id]; ok {
			a.GroupIDs = append(a.GroupIDs, group)
		}
	}); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (db *DB) loadPairs(query string, fn func(a, b string)) error {
	rows, err := db.conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return err
		}
		fn(a, b)
	}
	return rows.Err()
}

// LoadGroups returns every stored group with its ordered memberships.
func (db *DB) LoadGroups() (map[string]*models.Group, error) {
	rows, err := db.conn.Query("SELECT id, name, owner FROM groups")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string]*models.Group)
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Owner); err != nil {
			return nil, err
		}
		groups[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := db.conn.Query(
		"SELECT group_id, account_id, joined_at FROM group_members ORDER BY group_id, account_id",
	)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var m models.GroupMembership
		var joinedStr string
		if err := memberRows.Scan(&m.GroupID, &m.AccountID, &joinedStr); err != nil {
			return nil, err
		}
		m.JoinedAt, _ = time.Parse(time.RFC3339, joinedStr)
		if g, ok := groups[m.GroupID]; ok {
			g.Members = append(g.Members, m)
		}
	}

	return groups, memberRows.Err()
}

// SaveAccounts replaces the stored accounts and friendships with the given
// snapshot.
func (db *DB) SaveAccounts(accounts map[string]*models.Account) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{"DELETE FROM friendships", "DELETE FROM accounts"} {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}

	accountStmt, err := tx.Prepare(
		"INSERT INTO accounts (id, nickname, password, email, birthday, address, signature) VALUES (?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer accountStmt.Close()

	friendStmt, err := tx.Prepare("INSERT INTO friendships (account_id, friend_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer friendStmt.Close()

	for _, id := range sortedKeys(accounts) {
		a := accounts[id]
		if _, err := accountStmt.Exec(a.ID, a.Nickname, a.Password, a.Email, a.Birthday, a.Address, a.Signature); err != nil {
			return fmt.Errorf("save account %s: %w", a.ID, err)
		}
		for _, friend := range a.FriendIDs {
			if _, err := friendStmt.Exec(a.ID, friend); err != nil {
				return fmt.Errorf("save friendship %s-%s: %w", a.ID, friend, err)
			}
		}
	}

	return tx.Commit()
}

// SaveGroups replaces the stored groups and memberships with the given
// snapshot.
func (db *DB) SaveGroups(groups map[string]*models.Group) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{"DELETE FROM group_members", "DELETE FROM groups"} {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}

	groupStmt, err := tx.Prepare("INSERT INTO groups (id, name, owner) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer groupStmt.Close()

	memberStmt, err := tx.Prepare("INSERT INTO group_members (group_id, account_id, joined_at) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer memberStmt.Close()

	for _, id := range sortedKeys(groups) {
		g := groups[id]
		if _, err := groupStmt.Exec(g.ID, g.Name, g.Owner); err != nil {
			return fmt.Errorf("save group %s: %w", g.ID, err)
		}
		for _, m := range g.Members {
			if _, err := memberStmt.Exec(g.ID, m.AccountID, m.JoinedAt.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("save member %s of %s: %w", m.AccountID, g.ID, err)
			}
		}
	}

	return tx.Commit()
}

// AppendChatLine appends one line to a conversation's history.
func (db *DB) AppendChatLine(conversationID, line string) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_lines (conversation_id, line, created_at) VALUES (?, ?, ?)",
		conversationID, line, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// LoadChatHistory returns a conversation's lines in the order they were
// appended. A conversation without history yields an empty slice.
func (db *DB) LoadChatHistory(conversationID string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT line FROM chat_lines WHERE conversation_id = ? ORDER BY id ASC",
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

// ClearChatHistory removes a conversation's history. Clearing a
// conversation without history is not an error.
func (db *DB) ClearChatHistory(conversationID string) error {
	_, err := db.conn.Exec("DELETE FROM chat_lines WHERE conversation_id = ?", conversationID)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
