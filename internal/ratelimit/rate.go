package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Rate is a fixed-window limit such as "10/m": at most Count requests per
// window.
type Rate struct {
	Count  int
	Period byte
}

var rateRe = regexp.MustCompile(`^(\d+)/([smhd])$`)

// ParseRate parses "<count>/<period>" rate strings, e.g. "10/m" or "100/h".
// Valid periods are s, m, h and d.
func ParseRate(s string) (Rate, error) {
	m := rateRe.FindStringSubmatch(s)
	if m == nil {
		return Rate{}, fmt.Errorf("invalid rate %q: want <count>/<s|m|h|d>", s)
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count <= 0 {
		return Rate{}, fmt.Errorf("invalid rate count %q", m[1])
	}
	return Rate{Count: count, Period: m[2][0]}, nil
}

// MustRate is ParseRate for static configuration; it panics on bad input.
func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Window returns the lifetime of one counting window.
func (r Rate) Window() time.Duration {
	switch r.Period {
	case 's':
		return time.Second
	case 'h':
		return time.Hour
	case 'd':
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Label returns the period letter used in counter keys.
func (r Rate) Label() string {
	return string(r.Period)
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Count, r.Label())
}
