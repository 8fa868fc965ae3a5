package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Face samples ---

// PutEmbedding stores the embedding of one detected face instance.
func (s *PostgresStore) PutEmbedding(ctx context.Context, faceID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("put embedding %s: empty vector", faceID)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_samples (face_id, embedding) VALUES ($1, $2)
		 ON CONFLICT (face_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		faceID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("put embedding %s: %w", faceID, err)
	}
	return nil
}

// SimilarFaces returns the candidate face ids whose cosine similarity to
// faceID is at least minScore, closest first. faceID itself is never
// returned.
func (s *PostgresStore) SimilarFaces(ctx context.Context, faceID string, candidates []string, minScore float64, limit int) ([]string, error) {
	var query pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding FROM face_samples WHERE face_id = $1`, faceID,
	).Scan(&query)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: face %s", ErrNotFound, faceID)
		}
		return nil, fmt.Errorf("load embedding %s: %w", faceID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = len(candidates)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT face_id
		FROM face_samples
		WHERE face_id = ANY($2)
		  AND face_id <> $3
		  AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1
		LIMIT $5`,
		query, candidates, faceID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar faces: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan similar face: %w", err)
	}
	return ids, nil
}

// PruneFaceSamples deletes embeddings stored before the cutoff, except the
// ids in keep, and returns how many were removed.
func (s *PostgresStore) PruneFaceSamples(ctx context.Context, before time.Time, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM face_samples WHERE created_at < $1 AND NOT (face_id = ANY($2))`,
		before, keep)
	if err != nil {
		return 0, fmt.Errorf("prune face samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Sightings ---

// CreateSightings inserts the sightings in one batch and fills their ids.
func (s *PostgresStore) CreateSightings(ctx context.Context, sightings []models.Sighting) error {
	if len(sightings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range sightings {
		sg := &sightings[i]
		if sg.ID == uuid.Nil {
			sg.ID = uuid.New()
		}
		batch.Queue(
			`INSERT INTO sightings (id, cycle_id, camera_id, visitor_id, face_id, timestamp, rect, attributes, emotion, dwell_seconds, frame_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at`,
			sg.ID, sg.CycleID, sg.CameraID, sg.VisitorID, sg.FaceID, sg.Timestamp,
			sg.Rect, sg.Attributes, sg.Emotion, sg.DwellSeconds, sg.FrameKey,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&sg.CreatedAt)
		})
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create sightings: %w", err)
	}
	return nil
}

const sightingColumns = `id, cycle_id, camera_id, visitor_id, face_id, timestamp, rect, attributes, emotion, dwell_seconds, frame_key, created_at`

func scanSighting(row pgx.Row) (models.Sighting, error) {
	var sg models.Sighting
	err := row.Scan(&sg.ID, &sg.CycleID, &sg.CameraID, &sg.VisitorID, &sg.FaceID, &sg.Timestamp,
		&sg.Rect, &sg.Attributes, &sg.Emotion, &sg.DwellSeconds, &sg.FrameKey, &sg.CreatedAt)
	return sg, err
}

// QuerySightings returns one page of a camera's sightings, newest first,
// and the total number matching the filter.
func (s *PostgresStore) QuerySightings(ctx context.Context, f SightingFilter) ([]models.Sighting, int, error) {
	where, args := f.where()
	limit, offset := f.page()

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sightings "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sightings: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM sightings %s ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d`,
		sightingColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []models.Sighting
	for rows.Next() {
		sg, err := scanSighting(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sighting: %w", err)
		}
		sightings = append(sightings, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sightings: %w", err)
	}
	return sightings, total, nil
}

// GetSighting returns a single sighting by id.
func (s *PostgresStore) GetSighting(ctx context.Context, id uuid.UUID) (*models.Sighting, error) {
	sg, err := scanSighting(s.pool.QueryRow(ctx,
		`SELECT `+sightingColumns+` FROM sightings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sighting %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get sighting: %w", err)
	}
	return &sg, nil
}

// ListVisitorSummaries aggregates a camera's sightings per visitor, lowest
// visitor id first. Sightings without a visitor are ignored.
func (s *PostgresStore) ListVisitorSummaries(ctx context.Context, cameraID string) ([]models.VisitorSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT visitor_id,
		       MIN(timestamp),
		       MAX(timestamp),
		       COUNT(*),
		       MAX(dwell_seconds),
		       COALESCE((array_agg(emotion ORDER BY timestamp DESC) FILTER (WHERE emotion <> ''))[1], '')
		FROM sightings
		WHERE camera_id = $1 AND visitor_id IS NOT NULL
		GROUP BY visitor_id
		ORDER BY visitor_id`, cameraID)
	if err != nil {
		return nil, fmt.Errorf("list visitor summaries: %w", err)
	}
	defer rows.Close()

	var out []models.VisitorSummary
	for rows.Next() {
		v := models.VisitorSummary{CameraID: cameraID}
		if err := rows.Scan(&v.VisitorID, &v.FirstSeen, &v.LastSeen, &v.Sightings, &v.MaxDwellSeconds, &v.LastEmotion); err != nil {
			return nil, fmt.Errorf("scan visitor summary: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visitor summaries: %w", err)
	}
	return out, nil
}
