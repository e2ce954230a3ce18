package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/tier"
)

var (
	// ErrDuplicate reports a registration for an id already in the catalog.
	ErrDuplicate = errors.New("object already registered")
	// ErrNotFound reports a lookup for an id the catalog does not hold.
	ErrNotFound = errors.New("object not found")
	// ErrMalformedCatalog is returned when the catalog holds rows but none of them can be read.
	ErrMalformedCatalog = errors.New("catalog has no readable rows")
)

// SchemaRowError describes a catalog row that could not be interpreted.
type SchemaRowError struct {
	ID     string
	Reason string
}

func (e *SchemaRowError) Error() string {
	return fmt.Sprintf("row %q: %s", e.ID, e.Reason)
}

// TrackedObject is one managed object in the catalog.
type TrackedObject struct {
	ID           string
	Location     string
	Tier         tier.Tier
	LastAccess   *time.Time // nil until the first aggregation run
	AccessCount  int
	PatternScore float64
	CreatedAt    time.Time
}

// Scored reports whether the object has been through an aggregation run.
func (o TrackedObject) Scored() bool {
	return o.LastAccess != nil
}

const objectColumns = `id, location, tier, last_access, access_count, pattern_score, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (TrackedObject, error) {
	var (
		obj        TrackedObject
		tierName   string
		lastAccess sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&obj.ID, &obj.Location, &tierName, &lastAccess,
		&obj.AccessCount, &obj.PatternScore, &createdAt); err != nil {
		return obj, err
	}

	t, err := tier.Parse(tierName)
	if err != nil {
		return obj, &SchemaRowError{ID: obj.ID, Reason: fmt.Sprintf("unrecognized tier %q", tierName)}
	}
	obj.Tier = t
	if obj.AccessCount < 0 {
		return obj, &SchemaRowError{ID: obj.ID, Reason: fmt.Sprintf("negative access count %d", obj.AccessCount)}
	}
	if obj.PatternScore < 0 || obj.PatternScore > 1 {
		return obj, &SchemaRowError{ID: obj.ID, Reason: fmt.Sprintf("pattern score %g outside [0,1]", obj.PatternScore)}
	}
	if lastAccess.Valid {
		ts := time.UnixMilli(lastAccess.Int64)
		obj.LastAccess = &ts
	}
	obj.CreatedAt = time.UnixMilli(createdAt)
	return obj, nil
}

// CreateIfAbsent inserts a new object with no access history. It returns
// false without error when the id is already tracked.
func (db *DB) CreateIfAbsent(ctx context.Context, id, location string, t tier.Tier) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("create object: empty id")
	}
	if location == "" {
		return false, fmt.Errorf("create object %q: empty location", id)
	}
	if !t.Valid() {
		return false, fmt.Errorf("create object %q: invalid tier %v", id, t)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO objects (id, location, tier, last_access, access_count, pattern_score, created_at)
		VALUES (?, ?, ?, NULL, 0, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, location, t.String(), time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("create object %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create object %q: %w", id, err)
	}
	return n == 1, nil
}

// Get returns a single object by id.
func (db *DB) Get(ctx context.Context, id string) (TrackedObject, error) {
	row := db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackedObject{}, fmt.Errorf("get object %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return TrackedObject{}, fmt.Errorf("get object %q: %w", id, err)
	}
	return obj, nil
}

// List reads every row inside one transaction, so the result is a consistent
// snapshot. Rows that cannot be interpreted are returned separately.
func (db *DB) List(ctx context.Context) ([]TrackedObject, []*SchemaRowError, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: begin snapshot: %v", ErrCatalogUnavailable, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+objectColumns+` FROM objects ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list objects: %v", ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var (
		objs    []TrackedObject
		skipped []*SchemaRowError
	)
	for rows.Next() {
		obj, err := scanObject(rows)
		var rowErr *SchemaRowError
		if errors.As(err, &rowErr) {
			skipped = append(skipped, rowErr)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("scan object: %w", err)
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list objects: %w", err)
	}
	return objs, skipped, nil
}

// GetAll returns the readable snapshot of the catalog, logging and skipping
// rows it cannot interpret.
func (db *DB) GetAll(ctx context.Context) ([]TrackedObject, error) {
	objs, skipped, err := db.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		db.logger.Warn("skipping unreadable catalog row", zap.String("id", s.ID), zap.String("reason", s.Reason))
	}
	if len(objs) == 0 && len(skipped) > 0 {
		return nil, fmt.Errorf("%w: %d rows skipped", ErrMalformedCatalog, len(skipped))
	}
	return objs, nil
}

// UpdateStats overwrites the access aggregates of an existing object.
// It reports whether a row was updated.
func (db *DB) UpdateStats(ctx context.Context, id string, lastAccess time.Time, count int, score float64) (bool, error) {
	if count < 0 {
		return false, fmt.Errorf("update stats %q: negative count %d", id, count)
	}
	if score < 0 || score > 1 {
		return false, fmt.Errorf("update stats %q: score %g outside [0,1]", id, score)
	}
	result, err := db.ExecContext(ctx, `
		UPDATE objects SET last_access = ?, access_count = ?, pattern_score = ? WHERE id = ?
	`, lastAccess.UnixMilli(), count, score, id)
	if err != nil {
		return false, fmt.Errorf("update stats %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update stats %q: %w", id, err)
	}
	return n == 1, nil
}

// UpdateLocation records a completed move. It reports whether a row was updated.
func (db *DB) UpdateLocation(ctx context.Context, id, location string, t tier.Tier) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("update location %q: invalid tier %v", id, t)
	}
	result, err := db.ExecContext(ctx, `
		UPDATE objects SET location = ?, tier = ? WHERE id = ?
	`, location, t.String(), id)
	if err != nil {
		return false, fmt.Errorf("update location %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update location %q: %w", id, err)
	}
	return n == 1, nil
}

// CountByTier returns how many readable objects sit on each tier.
func (db *DB) CountByTier(ctx context.Context) (map[tier.Tier]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM objects GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[tier.Tier]int, 3)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("count by tier: %w", err)
		}
		t, err := tier.Parse(name)
		if err != nil {
			continue
		}
		counts[t] += n
	}
	return counts, rows.Err()
}
