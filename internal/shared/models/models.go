package models

import "time"

// Credential represents an issued gateway API key. The secret is only ever
// held as a bcrypt hash.
type Credential struct {
	ID                 string
	ServiceName        string
	KeyName            string
	HashedSecret       string
	Permissions        []string
	RateLimitPerMinute int
	IsActive           bool
	ExpiresAt          *time.Time
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// RequestLog represents one outbound call chain to a provider
type RequestLog struct {
	ID           string
	RequestID    string
	Provider     string
	Operation    string
	StatusCode   int
	Attempts     int
	LatencyMs    int
	Success      bool
	ErrorMessage *string
	CreatedAt    time.Time
}
