package service

import (
	"context"
	"crypto/rand"
)

// Alphabet for generated slugs.
const slugAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	generatedSlugLen = 6
	fallbackSlugLen  = 8
	maxSlugAttempts  = 10
)

// SlugChecker answers whether a slug is already taken. The check is
// advisory: the database unique constraint at insert time is the
// authoritative collision detector.
type SlugChecker interface {
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
}

// SlugGenerator produces short random identifiers for new links.
type SlugGenerator struct {
	checker SlugChecker
}

// NewSlugGenerator creates a generator that checks candidates against checker
func NewSlugGenerator(checker SlugChecker) *SlugGenerator {
	return &SlugGenerator{checker: checker}
}

// Generate returns a slug for a new link. It draws up to maxSlugAttempts
// 6-character candidates and returns the first one not already in use.
// If every draw collides, it falls back to a single 8-character draw with
// no availability check; at that length a collision is considered
// negligible and would still be caught by the insert constraint.
// Checker errors count as collisions rather than failing the request.
func (g *SlugGenerator) Generate(ctx context.Context) string {
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		candidate := randomSlug(generatedSlugLen)
		taken, err := g.checker.ExistsBySlug(ctx, candidate)
		if err == nil && !taken {
			return candidate
		}
	}
	return randomSlug(fallbackSlugLen)
}

// randomSlug draws n characters uniformly from slugAlphabet using
// cryptographically strong randomness. Bytes >= 248 are rejected so each
// of the 62 symbols stays equally likely.
func randomSlug(n int) string {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand failing means the platform randomness source is
			// broken; there is nothing sensible to degrade to.
			panic("sluggen: reading random source: " + err.Error())
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, slugAlphabet[int(b)%len(slugAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
