// Package store persists characters, groups and chat transcripts in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/personachat/internal/chat"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (and migrates) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			is_group INTEGER NOT NULL DEFAULT 0,
			turns TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCharacter upserts a character profile.
func (s *Store) SaveCharacter(c *chat.CharacterProfile) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode character: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO characters (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		c.ID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save character: %w", err)
	}
	return nil
}

// ListCharacters returns every stored character.
func (s *Store) ListCharacters() ([]*chat.CharacterProfile, error) {
	rows, err := s.db.Query(`SELECT data FROM characters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	var out []*chat.CharacterProfile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c chat.CharacterProfile
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to decode character: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SaveGroup upserts a group definition.
func (s *Store) SaveGroup(g *chat.GroupDefinition) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode group: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO groups (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		g.ID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

// ListGroups returns every stored group.
func (s *Store) ListGroups() ([]*chat.GroupDefinition, error) {
	rows, err := s.db.Query(`SELECT data FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var out []*chat.GroupDefinition
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g chat.GroupDefinition
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, fmt.Errorf("failed to decode group: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// SaveChat upserts a transcript under the chat id.
func (s *Store) SaveChat(chatID, ownerID string, isGroup bool, turns []*chat.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}
	groupFlag := 0
	if isGroup {
		groupFlag = 1
	}
	_, err = s.db.Exec(
		`INSERT INTO chats (id, owner_id, is_group, turns, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, is_group = excluded.is_group,
		 turns = excluded.turns, updated_at = excluded.updated_at`,
		chatID, ownerID, groupFlag, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

// LoadChat returns the stored transcript, or nil when the chat is unknown.
func (s *Store) LoadChat(chatID string) ([]*chat.Turn, error) {
	var data string
	err := s.db.QueryRow(`SELECT turns FROM chats WHERE id = ?`, chatID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}

	var turns []*chat.Turn
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	return turns, nil
}

// DeleteChat removes a stored transcript.
func (s *Store) DeleteChat(chatID string) error {
	if _, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}
