package store

import (
	"database/sql"
	"errors"
)

const (
	adminHashKey     = "admin_password_hash"
	importHashPrefix = "import:"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.queryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the content hash recorded when path was last
// imported, or "" if it never was.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	return s.GetMetadata(importHashPrefix + path)
}

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	return s.SetMetadata(importHashPrefix+path, hash)
}

// AdminPasswordHash returns the bcrypt hash guarding the admin endpoints.
func (s *Store) AdminPasswordHash() (string, error) {
	return s.GetMetadata(adminHashKey)
}

// SetAdminPasswordHash stores the bcrypt hash guarding the admin endpoints.
func (s *Store) SetAdminPasswordHash(hash string) error {
	return s.SetMetadata(adminHashKey, hash)
}
