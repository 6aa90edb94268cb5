package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/serisow/docstore/rag_type"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        owner_id INTEGER NOT NULL,
        storage_used INTEGER NOT NULL DEFAULT 0
    )`,
	`CREATE TABLE IF NOT EXISTS documents (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
        file_name TEXT NOT NULL,
        file_size INTEGER NOT NULL,
        content_type TEXT NOT NULL,
        uploaded_at INTEGER NOT NULL,
        UNIQUE (account_id, file_name)
    )`,
	`CREATE TABLE IF NOT EXISTS passages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
        account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
        file_name TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding BLOB NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_passages_account ON passages (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_passages_document ON passages (document_id, id)`,
}

// SQLiteStore is a single-file store for development and the CLI. Distance
// search is an exact scan over the account's passages.
type SQLiteStore struct {
	db *sql.DB
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{"PRAGMA foreign_keys = ON"}, sqliteSchema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateAccount(ctx context.Context, ownerID int64) (*rag_type.Account, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO accounts (owner_id) VALUES (?)`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &rag_type.Account{ID: id, OwnerID: ownerID}, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID int64) (*rag_type.Account, error) {
	a := &rag_type.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, storage_used FROM accounts WHERE id = ?`, accountID).
		Scan(&a.ID, &a.OwnerID, &a.StorageUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, rag_type.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) DocumentExists(ctx context.Context, accountID int64, fileName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE account_id = ? AND file_name = ?)`,
		accountID, fileName).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *rag_type.Document, passages []rag_type.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc.UploadedAt = time.Now().UTC().Truncate(time.Microsecond)
	res, err := tx.ExecContext(ctx, `
        INSERT INTO documents (account_id, file_name, file_size, content_type, uploaded_at)
        VALUES (?, ?, ?, ?, ?)`,
		doc.AccountID, doc.FileName, doc.FileSize, string(doc.ContentType), doc.UploadedAt.UnixMicro())
	if err != nil {
		if isUniqueViolation(err) {
			return &rag_type.DuplicateFileNameError{FileName: doc.FileName}
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO passages (document_id, account_id, file_name, content, embedding)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range passages {
		passages[i].DocumentID = doc.ID
		res, err := stmt.ExecContext(ctx, doc.ID, doc.AccountID, doc.FileName,
			passages[i].Content, encodeVector(passages[i].Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert passage %d: %w", i, err)
		}
		if passages[i].ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET storage_used = storage_used + ? WHERE id = ?`,
		doc.FileSize, doc.AccountID)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}
	return tx.Commit()
}

const sqliteDocumentColumns = `id, account_id, file_name, file_size, content_type, uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row rowScanner) (rag_type.Document, error) {
	var d rag_type.Document
	var category string
	var uploaded int64
	err := row.Scan(&d.ID, &d.AccountID, &d.FileName, &d.FileSize, &category, &uploaded)
	d.ContentType = rag_type.Category(category)
	d.UploadedAt = time.UnixMicro(uploaded).UTC()
	return d, err
}

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID int64) (*rag_type.Document, error) {
	d, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE id = ?`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", documentID, rag_type.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) GetDocuments(ctx context.Context, documentIDs []int64) (map[int64]rag_type.Document, error) {
	docs := make(map[int64]rag_type.Document, len(documentIDs))
	for _, id := range documentIDs {
		d, err := s.GetDocument(ctx, id)
		if errors.Is(err, rag_type.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs[id] = *d
	}
	return docs, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, accountID int64) ([]rag_type.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []rag_type.Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID, size int64
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, file_size FROM documents WHERE id = ?`, documentID).Scan(&accountID, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %d: %w", documentID, rag_type.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET storage_used = MAX(storage_used - ?, 0) WHERE id = ?`, size, accountID)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteAllDocuments(ctx context.Context, accountID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE account_id = ?`, accountID); err != nil {
		return 0, fmt.Errorf("failed to delete passages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET storage_used = 0 WHERE id = ?`, accountID); err != nil {
		return 0, fmt.Errorf("failed to reset storage usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) PassageTexts(ctx context.Context, documentID, afterID int64, limit int) ([]rag_type.Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, content FROM passages
        WHERE document_id = ? AND id > ?
        ORDER BY id
        LIMIT ?`, documentID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read passages: %w", err)
	}
	defer rows.Close()

	var out []rag_type.Passage
	for rows.Next() {
		p := rag_type.Passage{DocumentID: documentID}
		if err := rows.Scan(&p.ID, &p.Content); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SearchPassages(ctx context.Context, accountID int64, query []float32, maxDistance float64, limit int) ([]rag_type.PassageMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, document_id, file_name, content, embedding
        FROM passages WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	var matches []rag_type.PassageMatch
	for rows.Next() {
		var m rag_type.PassageMatch
		var blob []byte
		if err := rows.Scan(&m.PassageID, &m.DocumentID, &m.FileName, &m.Content, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", m.PassageID, err)
		}
		m.Distance, err = l2Distance(vec, query)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", m.PassageID, err)
		}
		if m.Distance <= maxDistance {
			matches = append(matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Dimensions returns the size of the stored vectors, 0 while no passage exists.
func (s *SQLiteStore) Dimensions(ctx context.Context) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx, `SELECT length(embedding) FROM passages LIMIT 1`).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimensions: %w", err)
	}
	return size / 4, nil
}
