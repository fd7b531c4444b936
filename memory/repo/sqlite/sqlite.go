// Package sqlite implements memory.Repository on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evermind-ai/recall/memory"
)

// Repo is a SQLite-backed memory.Repository. Keywords, tags and the
// embedding vector are stored as JSON columns; the embedding copy here
// is what makes the vector index rebuildable after corruption.
type Repo struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Repo, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	r := &Repo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		character_id      TEXT NOT NULL,
		chat_id           TEXT,
		persona_id        TEXT,
		source_message_id TEXT,
		content           TEXT NOT NULL,
		summary           TEXT NOT NULL,
		keywords          TEXT,
		importance        REAL NOT NULL DEFAULT 0.5,
		source            TEXT NOT NULL DEFAULT 'auto',
		embedding         TEXT,
		created_at        TEXT NOT NULL,
		last_accessed_at  TEXT,
		tags              TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_character ON memories(character_id);
	CREATE INDEX IF NOT EXISTS idx_memories_character_source ON memories(character_id, source);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *Repo) Create(ctx context.Context, m *memory.Memory) error {
	keywords, tags, embedding, err := encodeJSONColumns(m)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories
			(id, character_id, chat_id, persona_id, source_message_id,
			 content, summary, keywords, importance, source, embedding,
			 created_at, last_accessed_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CharacterID, m.ChatID, m.PersonaID, m.SourceMessageID,
		m.Content, m.Summary, keywords, memory.ClampImportance(m.Importance),
		string(m.Source), embedding, m.CreatedAt.UTC().Format(time.RFC3339Nano),
		encodeTime(m.LastAccessedAt), tags)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

const selectColumns = `id, character_id, chat_id, persona_id, source_message_id,
	content, summary, keywords, importance, source, embedding,
	created_at, last_accessed_at, tags`

func (r *Repo) FindByCharacter(ctx context.Context, characterID string) ([]*memory.Memory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE character_id = ? ORDER BY created_at DESC`,
		characterID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (r *Repo) FindForCharacter(ctx context.Context, characterID, id string) (*memory.Memory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE character_id = ? AND id = ?`,
		characterID, id)
	m, err := scanOne(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	return m, err
}

func (r *Repo) UpdateForCharacter(ctx context.Context, characterID string, m *memory.Memory) error {
	keywords, tags, embedding, err := encodeJSONColumns(m)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET
			chat_id = ?, persona_id = ?, source_message_id = ?,
			content = ?, summary = ?, keywords = ?, importance = ?,
			source = ?, embedding = ?, last_accessed_at = ?, tags = ?
		WHERE character_id = ? AND id = ?`,
		m.ChatID, m.PersonaID, m.SourceMessageID,
		m.Content, m.Summary, keywords, memory.ClampImportance(m.Importance),
		string(m.Source), embedding, encodeTime(m.LastAccessedAt), tags,
		characterID, m.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteForCharacter(ctx context.Context, characterID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM memories WHERE character_id = ? AND id = ?`, characterID, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (r *Repo) BulkDelete(ctx context.Context, characterID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, characterID)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM memories WHERE character_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *Repo) CountByCharacter(ctx context.Context, characterID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE character_id = ?`, characterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (r *Repo) FindByKeywords(ctx context.Context, characterID string, keywords []string) ([]*memory.Memory, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	// Keywords are stored as a lowercase-matched JSON array; LIKE on the
	// quoted form keeps "tea" from matching "team".
	var clauses []string
	args := []interface{}{characterID}
	for _, k := range keywords {
		clauses = append(clauses, `lower(keywords) LIKE ?`)
		args = append(args, `%"`+strings.ToLower(k)+`"%`)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE character_id = ? AND (`+
			strings.Join(clauses, " OR ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query by keywords: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (r *Repo) SearchByContent(ctx context.Context, characterID, query string) ([]*memory.Memory, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories
		 WHERE character_id = ? AND (lower(content) LIKE ? OR lower(summary) LIKE ?)`,
		characterID, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search by content: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOne(s scanner) (*memory.Memory, error) {
	var (
		m                            memory.Memory
		chatID, personaID, sourceMsg sql.NullString
		keywords, embedding, tags    sql.NullString
		source, createdAt            string
		lastAccessed                 sql.NullString
	)
	err := s.Scan(&m.ID, &m.CharacterID, &chatID, &personaID, &sourceMsg,
		&m.Content, &m.Summary, &keywords, &m.Importance, &source, &embedding,
		&createdAt, &lastAccessed, &tags)
	if err != nil {
		return nil, err
	}

	m.ChatID = chatID.String
	m.PersonaID = personaID.String
	m.SourceMessageID = sourceMsg.String
	m.Source = memory.Source(source)

	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &m.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}

	m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if lastAccessed.Valid && lastAccessed.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastAccessed.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_accessed_at: %w", err)
		}
		m.LastAccessedAt = &t
	}
	return &m, nil
}

func scanAll(rows *sql.Rows) ([]*memory.Memory, error) {
	var out []*memory.Memory
	for rows.Next() {
		m, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeJSONColumns(m *memory.Memory) (keywords, tags, embedding sql.NullString, err error) {
	if len(m.Keywords) > 0 {
		b, e := json.Marshal(m.Keywords)
		if e != nil {
			return keywords, tags, embedding, fmt.Errorf("encode keywords: %w", e)
		}
		keywords = sql.NullString{String: string(b), Valid: true}
	}
	if len(m.Tags) > 0 {
		b, e := json.Marshal(m.Tags)
		if e != nil {
			return keywords, tags, embedding, fmt.Errorf("encode tags: %w", e)
		}
		tags = sql.NullString{String: string(b), Valid: true}
	}
	if len(m.Embedding) > 0 {
		b, e := json.Marshal(m.Embedding)
		if e != nil {
			return keywords, tags, embedding, fmt.Errorf("encode embedding: %w", e)
		}
		embedding = sql.NullString{String: string(b), Valid: true}
	}
	return keywords, tags, embedding, nil
}

func encodeTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
