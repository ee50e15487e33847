package security

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Field names reported on validation failures. They match the public form
// field names so errors can be rendered next to the input that caused them.
const (
	FieldOriginalURL = "original_url"
	FieldCustomSlug  = "custom_slug"
)

// Schemes that must never be stored, whatever the rest of the URL looks like.
var dangerousProtocols = []string{
	"javascript",
	"data",
	"vbscript",
	"file",
	"ftp",
	"mailto",
	"tel",
	"sms",
	"whatsapp",
}

// Hostname spellings that resolve to the local machine.
var localhostAliases = map[string]struct{}{
	"localhost":             {},
	"127.0.0.1":             {},
	"0.0.0.0":               {},
	"::1":                   {},
	"localhost.localdomain": {},
	"local":                 {},
}

// Slugs that collide with current or future service routes.
var reservedSlugs = map[string]struct{}{
	"admin":      {},
	"api":        {},
	"login":      {},
	"logout":     {},
	"register":   {},
	"password":   {},
	"reset":      {},
	"confirm":    {},
	"activate":   {},
	"deactivate": {},
	"delete":     {},
	"edit":       {},
	"new":        {},
	"create":     {},
	"update":     {},
	"remove":     {},
	"add":        {},
}

// DefaultBlockedDomains seeds the hostname denylist when no override is
// configured.
var DefaultBlockedDomains = []string{
	"evil.com",
	"phishing-site.net",
	"malware.example",
	"fake-login.com",
	"steal-password.net",
}

var (
	dangerousChars  = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")
	scriptTagRe     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	slugCharsRe     = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	suspiciousSlugs = []string{"..", "javascript", "data:", "vbscript"}
)

// hasSuspiciousPattern reports whether a slug carries traversal or
// injection markers. Callers pass the lowercased slug.
func hasSuspiciousPattern(slug string) bool {
	if strings.ContainsAny(slug, `<>"'`) {
		return true
	}
	for _, pattern := range suspiciousSlugs {
		if strings.Contains(slug, pattern) {
			return true
		}
	}
	return false
}

// Policy configures validation limits. Zero values fall back to the
// production defaults.
type Policy struct {
	MaxURLLength   int
	MinSlugLength  int
	MaxSlugLength  int
	BlockedDomains []string
}

// Validator checks user-supplied URLs and custom slugs before they reach
// storage
type Validator struct {
	maxURLLength  int
	minSlugLength int
	maxSlugLength int
	blocked       map[string]struct{}
}

// NewValidator creates a Validator from a policy, applying defaults for
// unset fields
func NewValidator(p Policy) *Validator {
	if p.MaxURLLength <= 0 {
		p.MaxURLLength = 2048
	}
	if p.MinSlugLength <= 0 {
		p.MinSlugLength = 3
	}
	if p.MaxSlugLength <= 0 {
		p.MaxSlugLength = 10
	}
	domains := p.BlockedDomains
	if domains == nil {
		domains = DefaultBlockedDomains
	}
	blocked := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			blocked[d] = struct{}{}
		}
	}
	return &Validator{
		maxURLLength:  p.MaxURLLength,
		minSlugLength: p.MinSlugLength,
		maxSlugLength: p.MaxSlugLength,
		blocked:       blocked,
	}
}

// Sanitize strips characters usable for HTML/JS injection, removes script
// tags and trims surrounding whitespace.
func Sanitize(s string) string {
	s = dangerousChars.Replace(s)
	s = scriptTagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ValidateURL checks a raw URL for dangerous schemes, internal network
// targets and blocked domains. On success it returns the sanitized URL,
// which is what gets stored.
func (v *Validator) ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError(FieldOriginalURL, KindEmptyInput, "URL cannot be empty")
	}

	sanitized := Sanitize(raw)
	if sanitized == "" {
		return "", NewValidationError(FieldOriginalURL, KindEmptyInput, "URL cannot be empty")
	}

	lower := strings.ToLower(sanitized)
	for _, proto := range dangerousProtocols {
		if strings.HasPrefix(lower, proto+":") {
			return "", NewValidationError(FieldOriginalURL, KindDangerousProtocol,
				fmt.Sprintf("Dangerous protocol %q is not allowed", proto+":"))
		}
	}

	parsed, err := url.Parse(sanitized)
	if err != nil {
		return "", NewValidationError(FieldOriginalURL, KindMalformedURL, "Invalid URL format")
	}

	if host := effectiveHostname(parsed); host != "" {
		hostLower := strings.ToLower(host)
		if ip := net.ParseIP(host); ip != nil {
			if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				return "", NewValidationError(FieldOriginalURL, KindPrivateAddress,
					"Private/local IP addresses are not allowed")
			}
		}
		if _, ok := localhostAliases[hostLower]; ok {
			return "", NewValidationError(FieldOriginalURL, KindPrivateAddress,
				"Localhost URLs are not allowed")
		}
		if _, ok := v.blocked[hostLower]; ok {
			return "", NewValidationError(FieldOriginalURL, KindBlockedDomain,
				"Suspicious domain detected")
		}
	}

	if len(sanitized) > v.maxURLLength {
		return "", NewValidationError(FieldOriginalURL, KindTooLong,
			fmt.Sprintf("URL too long (max %d characters)", v.maxURLLength))
	}

	return sanitized, nil
}

// ValidateSlug checks an optional custom slug. Empty input is valid and
// signals that a slug should be generated instead. The returned slug is
// lowercased, which is the form that gets stored.
func (v *Validator) ValidateSlug(raw string) (string, error) {
	slug := strings.TrimSpace(raw)
	if slug == "" {
		return "", nil
	}

	if len(slug) < v.minSlugLength {
		return "", NewValidationError(FieldCustomSlug, KindTooShort,
			fmt.Sprintf("Slug too short (minimum %d characters)", v.minSlugLength))
	}
	if len(slug) > v.maxSlugLength {
		return "", NewValidationError(FieldCustomSlug, KindTooLong,
			fmt.Sprintf("Slug too long (maximum %d characters)", v.maxSlugLength))
	}
	if !slugCharsRe.MatchString(slug) {
		return "", NewValidationError(FieldCustomSlug, KindInvalidCharacters,
			"Slug can only contain letters and numbers")
	}

	lower := strings.ToLower(slug)
	if _, ok := reservedSlugs[lower]; ok {
		return "", NewValidationError(FieldCustomSlug, KindReservedWord,
			"This slug is reserved and cannot be used")
	}
	if hasSuspiciousPattern(lower) {
		return "", NewValidationError(FieldCustomSlug, KindSuspiciousPattern,
			"Suspicious characters detected in slug")
	}

	return lower, nil
}

// effectiveHostname extracts the host to run network checks against.
// Bracketed IPv6 literals lose brackets and port, a multi-colon bare host is
// taken whole as an IPv6 literal, otherwise a single trailing :port is
// stripped.
func effectiveHostname(u *url.URL) string {
	host := u.Host
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if strings.Count(host, ":") > 1 {
		return host
	}
	if i := strings.Index(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}
