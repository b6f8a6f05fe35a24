package directory

import "time"

// Token is a bearer credential captured out of band with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is present and not expired at now. A zero
// ExpiresAt means the token does not expire.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// ParseExpiry parses an RFC 3339 expiry. An empty string means no expiry.
func ParseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
