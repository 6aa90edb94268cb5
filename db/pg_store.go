package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/serisow/docstore/rag_type"
)

const pgUniqueViolation = "23505"

// PGStore keeps documents and passages in Postgres with pgvector.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) CreateAccount(ctx context.Context, ownerID int64) (*rag_type.Account, error) {
	a := &rag_type.Account{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (owner_id) VALUES ($1) RETURNING id`, ownerID).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

func (s *PGStore) GetAccount(ctx context.Context, accountID int64) (*rag_type.Account, error) {
	a := &rag_type.Account{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, storage_used FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.OwnerID, &a.StorageUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, rag_type.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

func (s *PGStore) DocumentExists(ctx context.Context, accountID int64, fileName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE account_id = $1 AND file_name = $2)`,
		accountID, fileName).Scan(&exists)
	return exists, err
}

func (s *PGStore) CreateDocument(ctx context.Context, doc *rag_type.Document, passages []rag_type.Passage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO documents (account_id, file_name, file_size, content_type)
        VALUES ($1, $2, $3, $4)
        RETURNING id, uploaded_at`,
		doc.AccountID, doc.FileName, doc.FileSize, string(doc.ContentType)).
		Scan(&doc.ID, &doc.UploadedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &rag_type.DuplicateFileNameError{FileName: doc.FileName}
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if len(passages) > 0 {
		batch := &pgx.Batch{}
		for i := range passages {
			passages[i].DocumentID = doc.ID
			batch.Queue(`
                INSERT INTO passages (document_id, account_id, file_name, content, embedding)
                VALUES ($1, $2, $3, $4, $5)
                RETURNING id`,
				doc.ID, doc.AccountID, doc.FileName,
				// Postgres text cannot hold NUL bytes, which PDF extraction can produce.
				strings.ReplaceAll(passages[i].Content, "\x00", ""),
				pgvector.NewVector(passages[i].Embedding))
		}
		br := tx.SendBatch(ctx, batch)
		for i := range passages {
			if err := br.QueryRow().Scan(&passages[i].ID); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert passage %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to insert passages: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET storage_used = storage_used + $2 WHERE id = $1`,
		doc.AccountID, doc.FileSize)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}

	return tx.Commit(ctx)
}

const documentColumns = `id, account_id, file_name, file_size, content_type, uploaded_at`

func scanDocument(row pgx.Row) (rag_type.Document, error) {
	var d rag_type.Document
	var category string
	err := row.Scan(&d.ID, &d.AccountID, &d.FileName, &d.FileSize, &category, &d.UploadedAt)
	d.ContentType = rag_type.Category(category)
	return d, err
}

func (s *PGStore) GetDocument(ctx context.Context, documentID int64) (*rag_type.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", documentID, rag_type.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &d, nil
}

func (s *PGStore) GetDocuments(ctx context.Context, documentIDs []int64) (map[int64]rag_type.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ANY($1)`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[int64]rag_type.Document, len(documentIDs))
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs[d.ID] = d
	}
	return docs, rows.Err()
}

func (s *PGStore) ListDocuments(ctx context.Context, accountID int64) ([]rag_type.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []rag_type.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PGStore) DeleteDocument(ctx context.Context, documentID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var accountID, size int64
	err = tx.QueryRow(ctx,
		`DELETE FROM documents WHERE id = $1 RETURNING account_id, file_size`, documentID).
		Scan(&accountID, &size)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("document %d: %w", documentID, rag_type.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET storage_used = GREATEST(storage_used - $2, 0) WHERE id = $1`,
		accountID, size)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) DeleteAllDocuments(ctx context.Context, accountID int64) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET storage_used = 0 WHERE id = $1`, accountID); err != nil {
		return 0, fmt.Errorf("failed to reset storage usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) PassageTexts(ctx context.Context, documentID, afterID int64, limit int) ([]rag_type.Passage, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, content FROM passages
        WHERE document_id = $1 AND id > $2
        ORDER BY id
        LIMIT $3`, documentID, afterID, limit)
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

// ivfflatListsQuery reads the list count of the ivfflat index on passages, 0
// when there is none.
const ivfflatListsQuery = `
        SELECT COALESCE(MAX(split_part(opt, '=', 2)::int), 0)
        FROM pg_index i
        JOIN pg_class c ON c.oid = i.indexrelid
        CROSS JOIN unnest(c.reloptions) AS opt
        WHERE i.indrelid = 'passages'::regclass AND opt LIKE 'lists=%'`

// probesStatement makes an ivfflat scan visit every list, so the distance
// cutoff and account filter see all passages.
func probesStatement(lists int) string {
	if lists < 1 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL ivfflat.probes = %d", lists)
}

func (s *PGStore) SearchPassages(ctx context.Context, accountID int64, query []float32, maxDistance float64, limit int) ([]rag_type.PassageMatch, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin search: %w", err)
	}
	defer tx.Rollback(ctx)

	var lists int
	if err := tx.QueryRow(ctx, ivfflatListsQuery).Scan(&lists); err != nil {
		return nil, fmt.Errorf("failed to read vector index lists: %w", err)
	}
	if stmt := probesStatement(lists); stmt != "" {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to set ivfflat probes: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
        SELECT id, document_id, file_name, content, embedding <-> $2 AS distance
        FROM passages
        WHERE account_id = $1 AND embedding <-> $2 <= $3
        ORDER BY embedding <-> $2
        LIMIT $4`,
		accountID, pgvector.NewVector(query), maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	var matches []rag_type.PassageMatch
	for rows.Next() {
		var m rag_type.PassageMatch
		if err := rows.Scan(&m.PassageID, &m.DocumentID, &m.FileName, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, tx.Commit(ctx)
}

// Dimensions returns the declared size of the embedding column, 0 when the
// schema has not been migrated.
func (s *PGStore) Dimensions(ctx context.Context) (int, error) {
	var dims int
	err := s.pool.QueryRow(ctx, `
        SELECT atttypmod FROM pg_attribute
        WHERE attrelid = to_regclass('passages') AND attname = 'embedding'`).Scan(&dims)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimensions: %w", err)
	}
	return dims, nil
}
