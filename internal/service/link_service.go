package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zhejian/shorten/internal/audit"
	"github.com/zhejian/shorten/internal/model"
	"github.com/zhejian/shorten/internal/ratelimit"
	"github.com/zhejian/shorten/internal/repository"
	"github.com/zhejian/shorten/internal/security"
)

var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrLinkNotFound = errors.New("link not found")
)

// Rate-limit window actions.
const (
	actionShorten  = "shorten"
	actionRedirect = "redirect"
)

// Limits holds the fixed-window rates enforced per action. A request must
// pass every configured window for its action.
type Limits struct {
	ShortenShort ratelimit.Rate
	ShortenLong  ratelimit.Rate
	Redirect     ratelimit.Rate
}

// LinkServiceInterface defines the contract for link operations
type LinkServiceInterface interface {
	Shorten(ctx context.Context, req *model.ShortenRequest) (*model.Link, bool, error)
	Resolve(ctx context.Context, slug string, client model.ClientInfo) (string, error)
	Stats(ctx context.Context, slug string) (*model.Link, error)
	Recent(ctx context.Context, limit int) ([]model.Link, error)
}

// LinkService orchestrates rate limiting, validation, slug allocation and
// storage for the create and redirect paths.
type LinkService struct {
	repo      repository.LinkRepositoryInterface
	validator *security.Validator
	generator *SlugGenerator
	limiter   *ratelimit.Limiter
	recorder  audit.Recorder
	limits    Limits
}

// NewLinkService creates a new link service
func NewLinkService(
	repo repository.LinkRepositoryInterface,
	validator *security.Validator,
	generator *SlugGenerator,
	limiter *ratelimit.Limiter,
	recorder audit.Recorder,
	limits Limits,
) *LinkService {
	return &LinkService{
		repo:      repo,
		validator: validator,
		generator: generator,
		limiter:   limiter,
		recorder:  recorder,
		limits:    limits,
	}
}

// Shorten runs the create path: rate gate, validation, idempotent lookup,
// slug allocation and insert. The returned bool is true when a new link was
// created, false when an existing link for the same URL was returned.
//
// A uniqueness violation at insert time means another writer won the race;
// it surfaces as a field-level validation error with no retry.
func (s *LinkService) Shorten(ctx context.Context, req *model.ShortenRequest) (*model.Link, bool, error) {
	if err := s.gate(ctx, actionShorten, req.Client, s.limits.ShortenShort, s.limits.ShortenLong); err != nil {
		return nil, false, err
	}

	originalURL, err := s.validator.ValidateURL(req.OriginalURL)
	if err != nil {
		return nil, false, err
	}

	// An empty custom slug is valid and means "generate one".
	slug, err := s.validator.ValidateSlug(req.CustomSlug)
	if err != nil {
		return nil, false, err
	}
	if slug != "" {
		taken, err := s.repo.ExistsBySlug(ctx, slug)
		if err != nil {
			return nil, false, s.creationError(ctx, req.Client, originalURL, err)
		}
		if taken {
			return nil, false, security.NewValidationError(security.FieldCustomSlug,
				security.KindSlugTaken, "This slug is already taken")
		}
	}

	// Idempotent create: a URL that is already stored returns its link.
	existing, err := s.repo.GetByURL(ctx, originalURL)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, s.creationError(ctx, req.Client, originalURL, err)
	}

	isCustom := slug != ""
	if !isCustom {
		slug = s.generator.Generate(ctx)
	}

	link := &model.Link{
		ID:          uuid.New(),
		Slug:        slug,
		OriginalURL: originalURL,
	}
	if err := s.repo.Create(ctx, link); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateSlug):
			return nil, false, security.NewValidationError(security.FieldCustomSlug,
				security.KindSlugTaken, "This slug is already taken")
		case errors.Is(err, repository.ErrDuplicateURL):
			return nil, false, security.NewValidationError(security.FieldOriginalURL,
				security.KindDuplicateURL, "This URL has already been shortened")
		default:
			return nil, false, s.creationError(ctx, req.Client, originalURL, err)
		}
	}

	s.recorder.Record(ctx, audit.Event{
		Type: audit.EventURLCreated,
		Details: map[string]any{
			"slug":         link.Slug,
			"original_url": link.OriginalURL,
			"is_custom":    isCustom,
		},
		ClientID:  req.Client.ID,
		UserAgent: req.Client.UserAgent,
		Referer:   req.Client.Referer,
	})

	return link, true, nil
}

// Resolve runs the redirect path: rate gate, slug lookup and atomic hit
// increment. It returns the URL to redirect to.
func (s *LinkService) Resolve(ctx context.Context, slug string, client model.ClientInfo) (string, error) {
	if err := s.gate(ctx, actionRedirect, client, s.limits.Redirect); err != nil {
		return "", err
	}

	link, err := s.repo.ResolveSlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrLinkNotFound
		}
		return "", s.redirectError(ctx, client, slug, err)
	}

	updated, err := s.repo.IncrementHits(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrLinkNotFound
		}
		return "", s.redirectError(ctx, client, slug, err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type: audit.EventURLRedirected,
		Details: map[string]any{
			"slug":         slug,
			"original_url": link.OriginalURL,
			"hits":         updated.Hits,
		},
		ClientID:  client.ID,
		UserAgent: client.UserAgent,
		Referer:   client.Referer,
	})

	return link.OriginalURL, nil
}

// Stats returns fresh link metadata including the current hit count.
func (s *LinkService) Stats(ctx context.Context, slug string) (*model.Link, error) {
	link, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

// Recent returns up to limit links, most recently created first.
func (s *LinkService) Recent(ctx context.Context, limit int) ([]model.Link, error) {
	return s.repo.Recent(ctx, limit)
}

// gate enforces each rate in order. Counter-store failures propagate: an
// infrastructure failure is never converted into a silent allow.
func (s *LinkService) gate(ctx context.Context, action string, client model.ClientInfo, rates ...ratelimit.Rate) error {
	for _, r := range rates {
		ok, err := s.limiter.Allow(ctx, action, client.ID, r)
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !ok {
			s.recorder.Record(ctx, audit.Event{
				Type: audit.EventRateLimitExceeded,
				Details: map[string]any{
					"action": action,
					"rate":   r.String(),
				},
				ClientID:  client.ID,
				UserAgent: client.UserAgent,
				Referer:   client.Referer,
			})
			return ErrRateLimited
		}
	}
	return nil
}

func (s *LinkService) creationError(ctx context.Context, client model.ClientInfo, url string, err error) error {
	s.recorder.Record(ctx, audit.Event{
		Type: audit.EventURLCreationError,
		Details: map[string]any{
			"original_url": url,
			"error":        err.Error(),
		},
		ClientID:  client.ID,
		UserAgent: client.UserAgent,
		Referer:   client.Referer,
	})
	return err
}

func (s *LinkService) redirectError(ctx context.Context, client model.ClientInfo, slug string, err error) error {
	s.recorder.Record(ctx, audit.Event{
		Type: audit.EventRedirectError,
		Details: map[string]any{
			"slug":  slug,
			"error": err.Error(),
		},
		ClientID:  client.ID,
		UserAgent: client.UserAgent,
		Referer:   client.Referer,
	})
	return err
}

// Ensure LinkService implements LinkServiceInterface at compile time
var _ LinkServiceInterface = (*LinkService)(nil)
