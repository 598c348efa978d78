package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Setting key for the process-wide default model identifier.
const SettingGlobalDefaultModel = "global.default.model"

type Fact struct {
	ID   int64  `json:"id"`
	Text string `json:"factText"`
}

type Instruction struct {
	ID     int64  `json:"id"`
	Text   string `json:"instructionText"`
	Hidden bool   `json:"hidden"`
}

// Store holds the persona knowledge (facts, instructions) and the settings
// key-value table in a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fact_text TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS training_instructions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instruction_text TEXT NOT NULL,
			hidden INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			setting_key TEXT PRIMARY KEY,
			setting_value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- facts ---

func (s *Store) ListFacts() ([]Fact, error) {
	rows, err := s.db.Query(`SELECT id, fact_text FROM memory_facts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Text); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

func (s *Store) AddFact(text string) (Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fact{}, fmt.Errorf("fact text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT INTO memory_facts (fact_text) VALUES (?)`, text)
	if err != nil {
		return Fact{}, fmt.Errorf("insert fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Fact{}, fmt.Errorf("fact insert id: %w", err)
	}
	return Fact{ID: id, Text: text}, nil
}

func (s *Store) UpdateFact(id int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("fact text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE memory_facts SET fact_text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteFact(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM memory_facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- instructions ---

// ListInstructions returns every instruction, hidden ones included. Prompt
// compilation always works from this full set.
func (s *Store) ListInstructions() ([]Instruction, error) {
	return s.queryInstructions(`SELECT id, instruction_text, hidden FROM training_instructions ORDER BY id`)
}

// ListVisibleInstructions returns only the instructions shown to end users.
func (s *Store) ListVisibleInstructions() ([]Instruction, error) {
	return s.queryInstructions(`SELECT id, instruction_text, hidden FROM training_instructions WHERE hidden = 0 ORDER BY id`)
}

func (s *Store) queryInstructions(query string) ([]Instruction, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	var instructions []Instruction
	for rows.Next() {
		var ins Instruction
		var hidden int
		if err := rows.Scan(&ins.ID, &ins.Text, &hidden); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		ins.Hidden = hidden != 0
		instructions = append(instructions, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return instructions, nil
}

func (s *Store) AddInstruction(text string, hidden bool) (Instruction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Instruction{}, fmt.Errorf("instruction text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := 0
	if hidden {
		h = 1
	}
	res, err := s.db.Exec(`INSERT INTO training_instructions (instruction_text, hidden) VALUES (?, ?)`, text, h)
	if err != nil {
		return Instruction{}, fmt.Errorf("insert instruction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Instruction{}, fmt.Errorf("instruction insert id: %w", err)
	}
	return Instruction{ID: id, Text: text, Hidden: hidden}, nil
}

func (s *Store) SetInstructionHidden(id int64, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := 0
	if hidden {
		h = 1
	}
	res, err := s.db.Exec(`UPDATE training_instructions SET hidden = ? WHERE id = ?`, h, id)
	if err != nil {
		return fmt.Errorf("set instruction hidden: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteInstruction(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM training_instructions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instruction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- settings ---

// Setting returns the value for key and whether it was present.
func (s *Store) Setting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT setting_value FROM app_settings WHERE setting_key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// UpsertSetting writes key atomically; concurrent admin writers cannot lose
// updates because SQLite resolves the conflict in a single statement.
func (s *Store) UpsertSetting(key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return fmt.Errorf("setting key and value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO app_settings (setting_key, setting_value) VALUES (?, ?)
		ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}
