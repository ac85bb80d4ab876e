package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/google/uuid"
)

// Repository implements driven.Repository on top of a Store.
type Repository struct {
	store *Store
}

var _ driven.Repository = (*Repository)(nil)

// NewRepository wraps an open Store.
func NewRepository(store *Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Close() error { return r.store.Close() }

const timeLayout = time.RFC3339Nano

// ------------------------------------------------------------------
// Sources
// ------------------------------------------------------------------

func (r *Repository) SourceUpsert(ctx context.Context, path, contentHash, embeddingModel string) (driven.UpsertResult, error) {
	existing, err := r.GetSourceByPath(ctx, path)
	if err == nil {
		if existing.ContentHash == contentHash {
			return driven.UpsertResult{Source: existing, AlreadyHad: true}, nil
		}
	} else if err != domain.ErrNotFound {
		return driven.UpsertResult{}, err
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return driven.UpsertResult{}, err
	}
	defer tx.Rollback()

	replaced := false
	if existing.ID != "" {
		if err := purgeSourceTx(ctx, tx, existing.ID); err != nil {
			return driven.UpsertResult{}, fmt.Errorf("purge stale revision of %s: %w", path, err)
		}
		replaced = true
	}

	newSource := domain.Source{
		ID:             uuid.New().String(),
		Path:           path,
		ContentHash:    contentHash,
		EmbeddingModel: embeddingModel,
		IngestedAt:     time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sources (id, path, content_hash, embedding_model, ingested_at) VALUES (?, ?, ?, ?, ?)`,
		newSource.ID, newSource.Path, newSource.ContentHash, newSource.EmbeddingModel,
		newSource.IngestedAt.Format(timeLayout),
	); err != nil {
		return driven.UpsertResult{}, fmt.Errorf("insert source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return driven.UpsertResult{}, err
	}
	return driven.UpsertResult{Source: newSource, Replaced: replaced}, nil
}

func (r *Repository) GetSource(ctx context.Context, id string) (domain.Source, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, path, content_hash, embedding_model, ingested_at FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

func (r *Repository) GetSourceByPath(ctx context.Context, path string) (domain.Source, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, path, content_hash, embedding_model, ingested_at FROM sources WHERE path = ? ORDER BY ingested_at DESC LIMIT 1`, path)
	return scanSource(row)
}

func (r *Repository) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id, path, content_hash, embedding_model, ingested_at FROM sources ORDER BY ingested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		s, err := scanSourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSource(row *sql.Row) (domain.Source, error) {
	var s domain.Source
	var ingestedAt string
	err := row.Scan(&s.ID, &s.Path, &s.ContentHash, &s.EmbeddingModel, &ingestedAt)
	if err == sql.ErrNoRows {
		return domain.Source{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Source{}, err
	}
	s.IngestedAt, _ = time.Parse(timeLayout, ingestedAt)
	return s, nil
}

func scanSourceRows(rows *sql.Rows) (domain.Source, error) {
	var s domain.Source
	var ingestedAt string
	if err := rows.Scan(&s.ID, &s.Path, &s.ContentHash, &s.EmbeddingModel, &ingestedAt); err != nil {
		return domain.Source{}, err
	}
	s.IngestedAt, _ = time.Parse(timeLayout, ingestedAt)
	return s, nil
}

func (r *Repository) PurgeSource(ctx context.Context, id string) error {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := purgeSourceTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// purgeSourceTx deletes a Source and every dependent row (chunks, FTS
// entries, vector entries, summary) within an already-open transaction.
func purgeSourceTx(ctx context.Context, tx *sql.Tx, sourceID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE source_id = ?`, sourceID)
	if err != nil {
		return err
	}
	var chunkIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()

	if len(chunkIDs) > 0 {
		placeholders := make([]any, len(chunkIDs))
		clause := ""
		for i, id := range chunkIDs {
			placeholders[i] = id
			if i > 0 {
				clause += ","
			}
			clause += "?"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM chunks_fts WHERE rowid IN (%s)`, clause), placeholders...); err != nil {
			return fmt.Errorf("delete fts rows: %w", err)
		}
		if err := deleteVectorsForChunksTx(ctx, tx, chunkIDs); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM source_summaries WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

func deleteVectorsForChunksTx(ctx context.Context, tx *sql.Tx, chunkIDs []int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'vec_%'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()

	placeholders := make([]any, len(chunkIDs))
	clause := ""
	for i, id := range chunkIDs {
		placeholders[i] = id
		if i > 0 {
			clause += ","
		}
		clause += "?"
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chunk_id IN (%s)`, table, clause), placeholders...); err != nil {
			return fmt.Errorf("delete vectors from %s: %w", table, err)
		}
	}
	return nil
}

// ------------------------------------------------------------------
// Chunks
// ------------------------------------------------------------------

func (r *Repository) ChunkBatchInsert(ctx context.Context, sourceID string, drafts []domain.ChunkDraft) ([]int64, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(drafts))
	now := time.Now().UTC().Format(timeLayout)
	for i, d := range drafts {
		metaJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (source_id, ordinal, text, context_prefix, metadata, created_at) VALUES (?, ?, ?, '', ?, ?)`,
			sourceID, d.Ordinal, d.Text, string(metaJSON), now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", d.Ordinal, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) GetChunk(ctx context.Context, id int64) (domain.Chunk, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, source_id, ordinal, text, context_prefix, metadata, created_at FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

func scanChunk(row *sql.Row) (domain.Chunk, error) {
	var c domain.Chunk
	var metaJSON, createdAt string
	err := row.Scan(&c.ID, &c.SourceID, &c.Ordinal, &c.Text, &c.ContextPrefix, &metaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Chunk{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Chunk{}, err
	}
	_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return c, nil
}

func (r *Repository) HydrateChunks(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetChunk(ctx, id)
		if err != nil {
			if err == domain.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Repository) CountChunksBySource(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}

func (r *Repository) SetChunkContextPrefix(ctx context.Context, id int64, prefix string) error {
	_, err := r.store.db.ExecContext(ctx, `UPDATE chunks SET context_prefix = ? WHERE id = ?`, prefix, id)
	return err
}

// ------------------------------------------------------------------
// Full text
// ------------------------------------------------------------------

func (r *Repository) FullTextWrite(ctx context.Context, chunkID int64, text string) error {
	if _, err := r.GetChunk(ctx, chunkID); err != nil {
		return domain.NewError(domain.KindStoreIntegrity, "full-text write references unknown chunk", "", err)
	}
	_, err := r.store.db.ExecContext(ctx, `INSERT INTO chunks_fts(rowid, text) VALUES (?, ?)`, chunkID, text)
	return err
}

// ftsSanitize replaces characters FTS5 MATCH treats as syntax with spaces,
// mirroring the reference implementation's punctuation-stripping guard.
var ftsPunctuation = regexp.MustCompile(`[^\w\s]`)

func ftsSanitize(query string) string {
	return ftsPunctuation.ReplaceAllString(query, " ")
}

func (r *Repository) FullTextSearch(ctx context.Context, query string, topK int) ([]driven.FTSHit, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT rowid, bm25(chunks_fts) AS score FROM chunks_fts WHERE text MATCH ? ORDER BY score LIMIT ?`,
		ftsSanitize(query), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []driven.FTSHit
	for rows.Next() {
		var h driven.FTSHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ------------------------------------------------------------------
// Summaries
// ------------------------------------------------------------------

func (r *Repository) SummaryUpsert(ctx context.Context, sourceID, summaryText string) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO source_summaries (source_id, summary_text, generated_at) VALUES (?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET summary_text = excluded.summary_text, generated_at = excluded.generated_at`,
		sourceID, summaryText, time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (r *Repository) GetSummary(ctx context.Context, sourceID string) (domain.SourceSummary, error) {
	var s domain.SourceSummary
	var generatedAt string
	err := r.store.db.QueryRowContext(ctx,
		`SELECT source_id, summary_text, generated_at FROM source_summaries WHERE source_id = ?`, sourceID,
	).Scan(&s.SourceID, &s.SummaryText, &generatedAt)
	if err == sql.ErrNoRows {
		return domain.SourceSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SourceSummary{}, err
	}
	s.GeneratedAt, _ = time.Parse(timeLayout, generatedAt)
	return s, nil
}

func (r *Repository) ListSummaries(ctx context.Context, limit int) ([]domain.SourceSummary, error) {
	q := `SELECT source_id, summary_text, generated_at FROM source_summaries ORDER BY generated_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SourceSummary
	for rows.Next() {
		var s domain.SourceSummary
		var generatedAt string
		if err := rows.Scan(&s.SourceID, &s.SummaryText, &generatedAt); err != nil {
			return nil, err
		}
		s.GeneratedAt, _ = time.Parse(timeLayout, generatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}
