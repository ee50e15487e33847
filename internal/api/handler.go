package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/shorten/internal/model"
	"github.com/zhejian/shorten/internal/ratelimit"
	"github.com/zhejian/shorten/internal/security"
	"github.com/zhejian/shorten/internal/service"
)

//go:embed templates/index.html
var templateFS embed.FS

// Handler holds HTTP handlers and dependencies.
// It follows the dependency injection pattern, receiving
// interfaces rather than concrete implementations for testability.
type Handler struct {
	linkService service.LinkServiceInterface // shortening/redirect business logic
	db          DBInterface                  // Database connection for health checks
	cache       CacheInterface               // Cache connection for health checks
	logger      *slog.Logger                 // Structured logger for validation/error logging
	baseURL     string                       // prefix for rendered short URLs
	recentLimit int                          // links shown on the index page
}

// DBInterface defines the database operations needed by the handler.
// This interface allows for easy mocking in unit tests without
// requiring a real database connection.
type DBInterface interface {
	Ping(ctx context.Context) error // Check database connectivity
	Close()                         // Close database connection
}

// CacheInterface defines the cache operations needed by the handler.
// This interface allows for easy mocking in unit tests without
// requiring a real cache connection.
type CacheInterface interface {
	Ping(ctx context.Context) error
}

// NewHandler creates a new handler instance with the provided dependencies.
// It accepts interfaces to enable dependency injection and facilitate testing.
func NewHandler(linkService service.LinkServiceInterface, db DBInterface, cache CacheInterface, logger *slog.Logger, baseURL string, recentLimit int) *Handler {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Handler{
		linkService: linkService,
		db:          db,
		cache:       cache,
		logger:      logger,
		baseURL:     baseURL,
		recentLimit: recentLimit,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller is responsible for creating the engine and adding middleware
// before calling this method, so middleware runs in the correct order.
// Routes are organized into:
//   - Health check endpoint for monitoring
//   - The public HTML surface: index/shorten form and slug redirects
//   - API v1 endpoints for link management (grouped under /api/v1)
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/index.html")))

	// Health check endpoint
	r.GET("/health", h.healthCheck)

	// API v1 routes - grouped for versioning
	v1 := r.Group("/api/v1")
	{
		v1.POST("/shorten", h.createLink)    // Create short link
		v1.GET("/links/:slug", h.getLink)    // Get link metadata
	}

	// HTML surface
	r.GET("/", h.index)
	r.POST("/", h.shortenForm)

	// Redirect routes (public) - must be last to avoid conflicts. Both
	// spellings are registered so "/abc/" resolves without a 301 hop.
	r.GET("/:slug", h.redirect)
	r.GET("/:slug/", h.redirect)
}

// indexPage is the template payload for the HTML index.
type indexPage struct {
	Errors   map[string]string
	FormURL  string
	FormSlug string
	Result   *model.LinkResponse
	Created  bool
	Recent   []model.LinkResponse
}

// clientInfo derives the caller identity used for rate limiting and audit.
func clientInfo(c *gin.Context) model.ClientInfo {
	return model.ClientInfo{
		ID:        ratelimit.ClientIdentity(c.Request),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	}
}

func (h *Handler) linkResponse(link *model.Link) model.LinkResponse {
	return model.LinkResponse{
		Slug:        link.Slug,
		ShortURL:    h.baseURL + "/" + link.Slug,
		OriginalURL: link.OriginalURL,
		CreatedAt:   link.CreatedAt.Format(time.RFC3339),
		Hits:        link.Hits,
	}
}

// recentLinks loads the index page listing. A failure degrades to an empty
// listing rather than breaking the page.
func (h *Handler) recentLinks(ctx context.Context) []model.LinkResponse {
	links, err := h.linkService.Recent(ctx, h.recentLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load recent links", slog.String("error", err.Error()))
		return nil
	}
	out := make([]model.LinkResponse, 0, len(links))
	for i := range links {
		out = append(out, h.linkResponse(&links[i]))
	}
	return out
}

// healthCheck handles GET /health
// Returns the health status of the service and all dependencies.
// Response codes:
//   - 200 OK: All dependencies are healthy
//   - 503 Service Unavailable: One or more dependencies are down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	cacheErr := h.cache.Ping(ctx)
	dbErr := h.db.Ping(ctx)

	status := "ok"
	code := http.StatusOK
	deps := gin.H{"cache": "up", "database": "up"}

	if cacheErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["cache"] = "down"
	}
	if dbErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["database"] = "down"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// index handles GET /
// Renders the shorten form plus the most recent links. No side effects.
func (h *Handler) index(c *gin.Context) {
	ctx := c.Request.Context()
	c.HTML(http.StatusOK, "index.html", indexPage{
		Recent: h.recentLinks(ctx),
	})
}

// shortenForm handles POST /
// Form fields: original_url (required), custom_slug (optional).
// Response codes:
//   - 200 OK: link created/returned, or validation failure with field errors
//   - 403 Forbidden: rate limit exceeded
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) shortenForm(c *gin.Context) {
	ctx := c.Request.Context()
	originalURL := c.PostForm("original_url")
	customSlug := c.PostForm("custom_slug")

	link, created, err := h.linkService.Shorten(ctx, &model.ShortenRequest{
		OriginalURL: originalURL,
		CustomSlug:  customSlug,
		Client:      clientInfo(c),
	})
	if err != nil {
		if vErr, ok := security.AsValidationError(err); ok {
			// Validation failures re-render the form with field errors.
			c.HTML(http.StatusOK, "index.html", indexPage{
				Errors:   map[string]string{vErr.Field: vErr.Message},
				FormURL:  originalURL,
				FormSlug: customSlug,
				Recent:   h.recentLinks(ctx),
			})
			return
		}
		if errors.Is(err, service.ErrRateLimited) {
			c.String(http.StatusForbidden, "Rate limit exceeded. Please try again later.")
			return
		}
		h.logger.ErrorContext(ctx, "unexpected error shortening URL",
			slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := h.linkResponse(link)
	c.HTML(http.StatusOK, "index.html", indexPage{
		Result:  &resp,
		Created: created,
		Recent:  h.recentLinks(ctx),
	})
}

// createLink handles POST /api/v1/shorten
// Creates a short link from the provided original URL, or returns the
// existing link when the URL is already stored.
// Request body: ShortenAPIRequest (JSON)
// Response codes:
//   - 201 Created: Link created
//   - 200 OK: URL was already shortened; existing link returned
//   - 400 Bad Request: Invalid request body, URL, or custom slug
//   - 409 Conflict: Slug already taken (including insert races)
//   - 403 Forbidden: Rate limit exceeded
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) createLink(c *gin.Context) {
	ctx := c.Request.Context()
	var req model.ShortenAPIRequest

	// Bind and validate JSON request body
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, created, err := h.linkService.Shorten(ctx, &model.ShortenRequest{
		OriginalURL: req.OriginalURL,
		CustomSlug:  req.CustomSlug,
		Client:      clientInfo(c),
	})
	if err != nil {
		// Map service errors to appropriate HTTP status codes
		if vErr, ok := security.AsValidationError(err); ok {
			status := http.StatusBadRequest
			if vErr.Kind == security.KindSlugTaken || vErr.Kind == security.KindDuplicateURL {
				status = http.StatusConflict
			}
			c.JSON(status, model.ErrorResponse{
				Error:   http.StatusText(status),
				Message: vErr.Message,
				Field:   vErr.Field,
			})
			return
		}
		if errors.Is(err, service.ErrRateLimited) {
			h.errorResponse(c, http.StatusForbidden, "Rate limit exceeded")
			return
		}
		h.logger.ErrorContext(ctx, "unexpected error creating short link",
			slog.String("error", err.Error()))
		h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, h.linkResponse(link))
}

// getLink handles GET /api/v1/links/:slug
// Retrieves metadata for a link without counting a hit. The hit count is
// always read fresh.
// Response codes:
//   - 200 OK: Link metadata retrieved successfully
//   - 404 Not Found: Slug does not exist
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) getLink(c *gin.Context) {
	ctx := c.Request.Context()
	slug := c.Param("slug")

	link, err := h.linkService.Stats(ctx, slug)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLinkNotFound):
			h.errorResponse(c, http.StatusNotFound, "Link not found")
		default:
			h.logger.ErrorContext(ctx, "unexpected error fetching link",
				slog.String("error", err.Error()),
				slog.String("slug", slug))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.JSON(http.StatusOK, h.linkResponse(link))
}

// redirect handles GET /:slug and GET /:slug/
// Redirects the visitor to the original URL and counts the hit.
// Response codes:
//   - 302 Found: Redirects to original URL
//   - 404 Not Found: Slug does not exist
//   - 403 Forbidden: Rate limit exceeded
//   - 500 Internal Server Error: Unexpected error
func (h *Handler) redirect(c *gin.Context) {
	ctx := c.Request.Context()
	slug := c.Param("slug")

	url, err := h.linkService.Resolve(ctx, slug, clientInfo(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLinkNotFound):
			h.errorResponse(c, http.StatusNotFound, "Link not found")
		case errors.Is(err, service.ErrRateLimited):
			h.errorResponse(c, http.StatusForbidden, "Rate limit exceeded")
		default:
			h.logger.ErrorContext(ctx, "unexpected error during redirect",
				slog.String("error", err.Error()),
				slog.String("slug", slug))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.Redirect(http.StatusFound, url)
}

// errorResponse sends a standardized JSON error response.
// It uses the HTTP status code to determine the error type
// and includes a custom message for additional context.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status), // e.g., "Bad Request", "Not Found"
		Message: message,                 // Custom error message
	})
}
