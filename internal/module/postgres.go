package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlModules = `
CREATE TABLE IF NOT EXISTS modules (
    id            BIGSERIAL    PRIMARY KEY,
    title         TEXT         NOT NULL,
    content       TEXT         NOT NULL DEFAULT '',
    plain_content TEXT         NOT NULL DEFAULT '',
    persona       TEXT         NOT NULL DEFAULT '',
    style         TEXT         NOT NULL DEFAULT '',
    position      INT          NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_modules_position
    ON modules (position);
`

// PostgresStore is the Postgres-backed [Store]. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the
// connection, and runs the schema migration.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("module store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("module store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("module store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlModules); err != nil {
		pool.Close()
		return nil, fmt.Errorf("module store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const moduleColumns = `id, title, content, plain_content, persona, style, position, created_at, updated_at`

func scanModule(row pgx.Row) (Module, error) {
	var m Module
	err := row.Scan(&m.ID, &m.Title, &m.Content, &m.PlainContent,
		&m.Persona, &m.Style, &m.Position, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Module, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+moduleColumns+` FROM modules ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("module store: list: %w", err)
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("module store: list scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("module store: list rows: %w", err)
	}
	return out, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id int64) (Module, error) {
	m, err := scanModule(s.pool.QueryRow(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Module{}, fmt.Errorf("module store: get %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Module{}, fmt.Errorf("module store: get %d: %w", id, err)
	}
	return m, nil
}

// Create implements [Store]. The new module is placed at the end of the
// current order.
func (s *PostgresStore) Create(ctx context.Context, m Module) (Module, error) {
	if err := m.Validate(); err != nil {
		return Module{}, err
	}
	const q = `
		INSERT INTO modules (title, content, plain_content, persona, style, position)
		VALUES ($1, $2, $3, $4, $5,
		        (SELECT COALESCE(MAX(position) + 1, 0) FROM modules))
		RETURNING ` + moduleColumns

	stored, err := scanModule(s.pool.QueryRow(ctx, q,
		m.Title, m.Content, m.PlainContent, m.Persona, m.Style))
	if err != nil {
		return Module{}, fmt.Errorf("module store: create: %w", err)
	}
	return stored, nil
}

// Update implements [Store]. Position is not updatable here; use Reorder.
func (s *PostgresStore) Update(ctx context.Context, m Module) (Module, error) {
	if err := m.Validate(); err != nil {
		return Module{}, err
	}
	const q = `
		UPDATE modules
		SET    title = $2, content = $3, plain_content = $4,
		       persona = $5, style = $6, updated_at = now()
		WHERE  id = $1
		RETURNING ` + moduleColumns

	stored, err := scanModule(s.pool.QueryRow(ctx, q,
		m.ID, m.Title, m.Content, m.PlainContent, m.Persona, m.Style))
	if errors.Is(err, pgx.ErrNoRows) {
		return Module{}, fmt.Errorf("module store: update %d: %w", m.ID, ErrNotFound)
	}
	if err != nil {
		return Module{}, fmt.Errorf("module store: update %d: %w", m.ID, err)
	}
	return stored, nil
}

// Delete implements [Store]. Remaining positions are compacted in the same
// transaction so the order stays dense.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("module store: delete %d: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("module store: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("module store: delete %d: %w", id, ErrNotFound)
	}

	const compact = `
		UPDATE modules m
		SET    position = ranked.new_position
		FROM   (SELECT id, ROW_NUMBER() OVER (ORDER BY position, id) - 1 AS new_position
		        FROM modules) ranked
		WHERE  m.id = ranked.id AND m.position <> ranked.new_position`
	if _, err := tx.Exec(ctx, compact); err != nil {
		return fmt.Errorf("module store: delete %d: compact: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("module store: delete %d: commit: %w", id, err)
	}
	return nil
}

// Reorder implements [Store]. The whole rewrite happens in one transaction;
// an orderedIDs slice that does not cover the table exactly aborts it.
func (s *PostgresStore) Reorder(ctx context.Context, orderedIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("module store: reorder: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM modules`).Scan(&count); err != nil {
		return fmt.Errorf("module store: reorder: count: %w", err)
	}
	if count != len(orderedIDs) {
		return fmt.Errorf("module store: reorder: got %d ids, have %d modules", len(orderedIDs), count)
	}
	seen := make(map[int64]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("module store: reorder: duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}

	for pos, id := range orderedIDs {
		tag, err := tx.Exec(ctx,
			`UPDATE modules SET position = $2, updated_at = now() WHERE id = $1`, id, pos)
		if err != nil {
			return fmt.Errorf("module store: reorder id %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("module store: reorder id %d: %w", id, ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("module store: reorder: commit: %w", err)
	}
	return nil
}

// UpdatePlainContent implements [Store].
func (s *PostgresStore) UpdatePlainContent(ctx context.Context, id int64, plain string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE modules SET plain_content = $2, updated_at = now() WHERE id = $1`, id, plain)
	if err != nil {
		return fmt.Errorf("module store: update plain content %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("module store: update plain content %d: %w", id, ErrNotFound)
	}
	return nil
}
