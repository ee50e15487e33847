package model

import (
	"time"

	"github.com/google/uuid"
)

// Link represents a shortened link entity
type Link struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	OriginalURL string    `json:"original_url"`
	CreatedAt   time.Time `json:"created_at"`
	Hits        int64     `json:"hits"`
}

// ClientInfo identifies the caller of a rate-limited operation
type ClientInfo struct {
	ID        string
	UserAgent string
	Referer   string
}

// ShortenRequest carries one shorten attempt into the service layer
type ShortenRequest struct {
	OriginalURL string
	CustomSlug  string
	Client      ClientInfo
}

// ShortenAPIRequest represents the JSON body for creating a short link
type ShortenAPIRequest struct {
	OriginalURL string `json:"original_url" binding:"required"`
	CustomSlug  string `json:"custom_slug,omitempty"`
}

// LinkResponse represents the full link metadata response
type LinkResponse struct {
	Slug        string `json:"slug"`
	ShortURL    string `json:"short_url"`
	OriginalURL string `json:"original_url"`
	CreatedAt   string `json:"created_at"`
	Hits        int64  `json:"hits"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}
