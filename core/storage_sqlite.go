package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStorage keeps blocks, tree nodes, the bitfield and the header in a
// single SQLite database instead of a directory of flat files. It is a
// standalone alternative to DirStorageFactory for embedders that want one
// portable file per log rather than a directory of fixed-record stores;
// it does not implement StorageFactory, since nodeStore, Blocks and
// Bitfield are all built directly against *os.File record layouts and
// gain nothing from sitting behind database/sql.
type SQLStorage struct {
	db *sql.DB
}

// OpenSQLStorage opens or creates the schema at dsn, setting the same
// durability pragmas as a write-ahead-logged embedded store needs.
func OpenSQLStorage(dsn string) (*SQLStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS nodes (
  idx   INTEGER PRIMARY KEY,
  hash  BLOB    NOT NULL,
  size  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS blocks (
  idx   INTEGER PRIMARY KEY,
  data  BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS bits (
  idx   INTEGER PRIMARY KEY,
  value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS header (
  id         INTEGER PRIMARY KEY CHECK(id=1),
  public_key BLOB,
  signer_key BLOB,
  fork       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS user_data (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStorage{db: db}, nil
}

// AppendNode writes one tree node and returns its index.
func (s *SQLStorage) AppendNode(hash []byte, size uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var maxIdx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(idx) FROM nodes`).Scan(&maxIdx); err != nil {
		return 0, err
	}
	next := uint64(0)
	if maxIdx.Valid {
		next = uint64(maxIdx.Int64) + 1
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO nodes(idx, hash, size) VALUES(?, ?, ?)`, next, hash, size); err != nil {
		return 0, err
	}
	return next, nil
}

// GetNode reads one tree node.
func (s *SQLStorage) GetNode(i uint64) ([]byte, uint64, error) {
	var hash []byte
	var size uint64
	err := s.db.QueryRow(`SELECT hash, size FROM nodes WHERE idx=?`, i).Scan(&hash, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrBlockNotFound
	}
	return hash, size, err
}

// TruncateNodes drops every node at or beyond newSize.
func (s *SQLStorage) TruncateNodes(newSize uint64) error {
	_, err := s.db.Exec(`DELETE FROM nodes WHERE idx >= ?`, newSize)
	return err
}

// AppendBlock stores one block and returns its index.
func (s *SQLStorage) AppendBlock(data []byte) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var maxIdx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(idx) FROM blocks`).Scan(&maxIdx); err != nil {
		return 0, err
	}
	next := uint64(0)
	if maxIdx.Valid {
		next = uint64(maxIdx.Int64) + 1
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO blocks(idx, data) VALUES(?, ?)`, next, data); err != nil {
		return 0, err
	}
	return next, nil
}

// GetBlock reads one block.
func (s *SQLStorage) GetBlock(i uint64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blocks WHERE idx=?`, i).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlockNotFound
	}
	return data, err
}

// TruncateBlocks drops every block at or beyond length.
func (s *SQLStorage) TruncateBlocks(length uint64) error {
	_, err := s.db.Exec(`DELETE FROM blocks WHERE idx >= ?`, length)
	return err
}

// SetBit sets or clears bit i.
func (s *SQLStorage) SetBit(i uint64, value bool) error {
	_, err := s.db.Exec(
		`INSERT INTO bits(idx, value) VALUES(?, ?) ON CONFLICT(idx) DO UPDATE SET value=excluded.value`,
		i, value)
	return err
}

// GetBit reports whether bit i is set.
func (s *SQLStorage) GetBit(i uint64) (bool, error) {
	var v bool
	err := s.db.QueryRow(`SELECT value FROM bits WHERE idx=?`, i).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return v, err
}

// WriteHeader replaces the stored header row and user-data entries. Only
// PublicKey, SignerKey, Fork and UserData are stored; RootSignature and
// SignedLength are not written, and ReadHeader leaves them empty.
func (s *SQLStorage) WriteHeader(h Header) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO header(id, public_key, signer_key, fork) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET public_key=excluded.public_key, signer_key=excluded.signer_key, fork=excluded.fork`,
		h.PublicKey, h.SignerKey, h.Fork); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_data`); err != nil {
		return err
	}
	for k, v := range h.UserData {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_data(key, value) VALUES(?, ?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadHeader loads the stored header, if any.
func (s *SQLStorage) ReadHeader() (Header, error) {
	h := Header{UserData: make(map[string][]byte)}
	err := s.db.QueryRow(`SELECT public_key, signer_key, fork FROM header WHERE id=1`).
		Scan(&h.PublicKey, &h.SignerKey, &h.Fork)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return h, err
	}
	rows, err := s.db.Query(`SELECT key, value FROM user_data`)
	if err != nil {
		return h, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return h, err
		}
		h.UserData[k] = v
	}
	return h, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
