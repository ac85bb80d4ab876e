package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// float32SliceToBytes encodes a vector as little-endian float32 bytes, the
// same layout the teacher's metadata store used for embeddings.
func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func vecTableName(modelSlug string) string {
	return "vec_chunks_" + modelSlug
}

// isValidSlug guards against SQL injection through a slug value: model
// slugs are produced only by driven.ModelSlug, which emits [a-z0-9_]+.
func isValidSlug(slug string) bool {
	if slug == "" {
		return false
	}
	for _, r := range slug {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

func (r *Repository) EnsureVectorIndex(ctx context.Context, modelSlug string, dimension int) error {
	if !isValidSlug(modelSlug) {
		return domain.NewError(domain.KindConfiguration, "invalid embedding model slug", "check embedding.model", nil)
	}
	table := vecTableName(modelSlug)

	var existingDim sql.NullInt64
	err := r.store.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT dim FROM %s LIMIT 1`, table),
	).Scan(&existingDim)
	if err == nil {
		if existingDim.Valid && int(existingDim.Int64) != dimension {
			return domain.NewError(domain.KindSchemaMismatch,
				fmt.Sprintf("vector index %s has dimension %d, configured model needs %d", table, existingDim.Int64, dimension),
				"re-ingest with the original embedding model, or start a new project database", nil)
		}
		return nil
	}

	// Table doesn't exist yet (or is empty, which still lets us proceed):
	// create it if missing.
	_, createErr := r.store.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (chunk_id INTEGER PRIMARY KEY, dim INTEGER NOT NULL, vector BLOB NOT NULL)`,
		table,
	))
	if createErr != nil {
		return fmt.Errorf("create vector index %s: %w", table, createErr)
	}
	return nil
}

func (r *Repository) VectorIndexExists(ctx context.Context, modelSlug string) (bool, error) {
	if !isValidSlug(modelSlug) {
		return false, nil
	}
	var name string
	err := r.store.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, vecTableName(modelSlug),
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) VectorWrite(ctx context.Context, modelSlug string, chunkID int64, vector []float32) error {
	if !isValidSlug(modelSlug) {
		return domain.NewError(domain.KindConfiguration, "invalid embedding model slug", "", nil)
	}
	if _, err := r.GetChunk(ctx, chunkID); err != nil {
		return domain.NewError(domain.KindStoreIntegrity, "vector write references unknown chunk", "", err)
	}
	table := vecTableName(modelSlug)
	_, err := r.store.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (chunk_id, dim, vector) VALUES (?, ?, ?)`, table),
		chunkID, len(vector), float32SliceToBytes(vector),
	)
	return err
}

func (r *Repository) VectorSearch(ctx context.Context, modelSlug string, query []float32, topK int) ([]driven.VectorHit, error) {
	if !isValidSlug(modelSlug) {
		return nil, domain.NewError(domain.KindConfiguration, "invalid embedding model slug", "", nil)
	}
	table := vecTableName(modelSlug)
	exists, err := r.VectorIndexExists(ctx, modelSlug)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.NewError(domain.KindSchemaMismatch,
			fmt.Sprintf("no vector index for model slug %q", modelSlug),
			"run ingest with this embedding model before retrieving", nil)
	}

	rows, err := r.store.db.QueryContext(ctx, fmt.Sprintf(`SELECT chunk_id, vector FROM %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		id   int64
		dist float64
	}
	var all []scored
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := bytesToFloat32Slice(blob)
		all = append(all, scored{id: id, dist: cosineDistance(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].id < all[j].id
	})
	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}

	hits := make([]driven.VectorHit, len(all))
	for i, s := range all {
		hits[i] = driven.VectorHit{ChunkID: s.id, Distance: s.dist}
	}
	return hits, nil
}

// cosineDistance is 1 - cosine similarity, so 0 means identical direction.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

