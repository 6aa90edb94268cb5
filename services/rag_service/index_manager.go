package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
)

const passageIndexName = "idx_passages_embedding"

// IndexManager maintains the ivfflat index over passage embeddings.
type IndexManager struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewIndexManager(db *pgxpool.Pool, logger *slog.Logger) *IndexManager {
	return &IndexManager{
		db:     db,
		logger: logger,
	}
}

// optimalLists follows the pgvector guidance: rows/1000 up to a million rows,
// sqrt(rows) beyond.
func optimalLists(rows int) int {
	lists := rows / 1000
	if rows > 1_000_000 {
		lists = int(math.Sqrt(float64(rows)))
	}
	if lists < 1 {
		lists = 1
	}
	return lists
}

// CreateOrUpdateIndex rebuilds the vector index sized for the current row count.
func (im *IndexManager) CreateOrUpdateIndex(ctx context.Context) error {
	var count int
	err := im.db.QueryRow(ctx, "SELECT COUNT(*) FROM passages").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count passages: %w", err)
	}
	lists := optimalLists(count)

	_, err = im.db.Exec(ctx, "DROP INDEX IF EXISTS "+passageIndexName)
	if err != nil {
		return fmt.Errorf("failed to drop existing index: %w", err)
	}

	createIndexSQL := fmt.Sprintf(`
        CREATE INDEX %s
        ON passages
        USING ivfflat (embedding vector_l2_ops)
        WITH (lists = %d)
    `, passageIndexName, lists)

	_, err = im.db.Exec(ctx, createIndexSQL)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	im.logger.Info("Vector index created/updated successfully",
		slog.Int("passage_count", count),
		slog.Int("list_count", lists))

	return nil
}

// ReindexIfNeeded rebuilds the index when it is missing or its list count has
// drifted by more than half from the optimum.
func (im *IndexManager) ReindexIfNeeded(ctx context.Context) error {
	var currentLists int
	err := im.db.QueryRow(ctx, `
        SELECT split_part(opt, '=', 2)::int
        FROM pg_class c, unnest(c.reloptions) AS opt
        WHERE c.relname = $1
        AND opt LIKE 'lists=%'
    `, passageIndexName).Scan(&currentLists)
	if err != nil {
		// Index doesn't exist or other error
		return im.CreateOrUpdateIndex(ctx)
	}

	var count int
	err = im.db.QueryRow(ctx, "SELECT COUNT(*) FROM passages").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count passages: %w", err)
	}

	optimal := optimalLists(count)
	if math.Abs(float64(currentLists-optimal)) > float64(optimal)*0.5 {
		im.logger.Info("Rebuilding vector index due to significant size change",
			slog.Int("current_lists", currentLists),
			slog.Int("optimal_lists", optimal))
		return im.CreateOrUpdateIndex(ctx)
	}

	return nil
}
