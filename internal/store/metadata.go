package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ImportedFile describes an upload that parsed successfully.
type ImportedFile struct {
	Hash       string
	Filename   string
	Questions  int
	Students   int
	ImportedAt time.Time
}

// FileHash returns the hex sha256 of an uploaded file.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RecordImport remembers an upload by content hash. Re-importing the same
// content refreshes the entry.
func (s *Store) RecordImport(ctx context.Context, f ImportedFile) error {
	if f.ImportedAt.IsZero() {
		f.ImportedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (hash, filename, questions, students, imported_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET filename = ?, questions = ?, students = ?, imported_at = ?`,
		f.Hash, f.Filename, f.Questions, f.Students, f.ImportedAt,
		f.Filename, f.Questions, f.Students, f.ImportedAt,
	)
	if err != nil {
		return err
	}
	return s.SetMetadata("last_import", f.Hash)
}

// LookupImport returns the earlier import with the given hash, or nil.
func (s *Store) LookupImport(ctx context.Context, hash string) (*ImportedFile, error) {
	var f ImportedFile
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, filename, questions, students, imported_at FROM imported_files WHERE hash = ?`, hash,
	).Scan(&f.Hash, &f.Filename, &f.Questions, &f.Students, &f.ImportedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// LastImport returns the most recent successful import, or nil before the first.
func (s *Store) LastImport(ctx context.Context) (*ImportedFile, error) {
	hash, err := s.GetMetadata("last_import")
	if err != nil || hash == "" {
		return nil, err
	}
	return s.LookupImport(ctx, hash)
}
