package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhejian/shorten/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/zhejian/shorten/internal/repository")

var (
	ErrNotFound      = errors.New("link not found")
	ErrDuplicateSlug = errors.New("slug already exists")
	ErrDuplicateURL  = errors.New("url already shortened")
)

// Constraint names from the links table. Insert failures are told apart by
// which one fired.
const (
	slugConstraint = "links_slug_key"
	urlConstraint  = "links_original_url_key"
)

// LinkRepository handles database operations for links
type LinkRepository struct {
	db *pgxpool.Pool
}

var _ LinkRepositoryInterface = (*LinkRepository)(nil)

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

// Create inserts a new link record. Uniqueness violations map to
// ErrDuplicateSlug or ErrDuplicateURL depending on the constraint that
// fired; the constraints are the enforcement of last resort behind the
// service's advisory checks. CreatedAt and Hits are read back from the row.
func (r *LinkRepository) Create(ctx context.Context, link *model.Link) error {
	ctx, span := tracer.Start(ctx, "db.insert",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "links"),
			attribute.String("slug", link.Slug),
		),
	)
	defer span.End()

	query := `
		INSERT INTO links (id, slug, original_url)
		VALUES ($1, $2, $3)
		RETURNING created_at, hits
	`
	err := r.db.QueryRow(
		ctx,
		query,
		link.ID,
		link.Slug,
		link.OriginalURL,
	).Scan(&link.CreatedAt, &link.Hits)

	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == urlConstraint {
				return ErrDuplicateURL
			}
			return ErrDuplicateSlug
		}
		return err
	}

	return nil
}

// GetBySlug retrieves a link by its slug. Lookups are exact-match.
func (r *LinkRepository) GetBySlug(ctx context.Context, slug string) (*model.Link, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
			attribute.String("slug", slug),
		),
	)
	defer span.End()

	query := `
		SELECT id, slug, original_url, created_at, hits
		FROM links
		WHERE slug = $1`
	var link model.Link
	err := r.db.QueryRow(ctx, query, slug).Scan(
		&link.ID,
		&link.Slug,
		&link.OriginalURL,
		&link.CreatedAt,
		&link.Hits,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return &link, nil
}

// GetByURL retrieves a link by its original URL. Lookups are exact-match;
// no URL normalization happens here or anywhere else.
func (r *LinkRepository) GetByURL(ctx context.Context, url string) (*model.Link, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
		),
	)
	defer span.End()

	query := `
		SELECT id, slug, original_url, created_at, hits
		FROM links
		WHERE original_url = $1`
	var link model.Link
	err := r.db.QueryRow(ctx, query, url).Scan(
		&link.ID,
		&link.Slug,
		&link.OriginalURL,
		&link.CreatedAt,
		&link.Hits,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return &link, nil
}

// ExistsBySlug reports whether a slug is taken. It backs the advisory
// availability checks; Create's constraint stays authoritative.
func (r *LinkRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM links WHERE slug = $1)`
	if err := r.db.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// IncrementHits bumps the hit counter in a single statement and returns the
// updated link. Concurrent increments never lose updates.
func (r *LinkRepository) IncrementHits(ctx context.Context, slug string) (*model.Link, error) {
	ctx, span := tracer.Start(ctx, "db.update",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "links"),
			attribute.String("slug", slug),
		),
	)
	defer span.End()

	query := `
		UPDATE links
		SET hits = hits + 1
		WHERE slug = $1
		RETURNING id, slug, original_url, created_at, hits`
	var link model.Link
	err := r.db.QueryRow(ctx, query, slug).Scan(
		&link.ID,
		&link.Slug,
		&link.OriginalURL,
		&link.CreatedAt,
		&link.Hits,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return &link, nil
}

// Recent returns the most recently created links, newest first. It always
// queries fresh so a just-created link shows up immediately.
func (r *LinkRepository) Recent(ctx context.Context, limit int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 10
	}

	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query := `
		SELECT id, slug, original_url, created_at, hits
		FROM links
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	links := make([]model.Link, 0, limit)
	for rows.Next() {
		var link model.Link
		if err := rows.Scan(
			&link.ID,
			&link.Slug,
			&link.OriginalURL,
			&link.CreatedAt,
			&link.Hits,
		); err != nil {
			span.RecordError(err)
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return links, nil
}

// ResolveSlug is the redirect-path lookup. On the plain repository it is an
// ordinary slug lookup; the cached repository overrides it.
func (r *LinkRepository) ResolveSlug(ctx context.Context, slug string) (*model.Link, error) {
	return r.GetBySlug(ctx, slug)
}
