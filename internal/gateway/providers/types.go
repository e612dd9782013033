package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mrmushfiq/ridegate/internal/shared/config"
)

// Kind identifies the family of upstream a provider belongs to. Each kind
// has exactly one adapter implementation.
type Kind string

const (
	KindPayment   Kind = "payment"
	KindMaps      Kind = "maps"
	KindTracking  Kind = "tracking"
	KindPartner   Kind = "partner"
	KindEmergency Kind = "emergency"
)

// AuthKind selects how the provider credential is presented upstream.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthCustom AuthKind = "custom"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRetryBaseDelay = 200 * time.Millisecond
)

// ServiceConfig is the immutable configuration of one provider. The
// registry replaces it as a whole; it is never mutated after publication.
type ServiceConfig struct {
	ID                 string            `json:"id"`
	Kind               Kind              `json:"kind"`
	DisplayName        string            `json:"display_name"`
	BaseURL            string            `json:"base_url"`
	Timeout            time.Duration     `json:"-"`
	MaxRetries         int               `json:"max_retries"`
	RetryBaseDelay     time.Duration     `json:"-"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	Enabled            bool              `json:"enabled"`
	AuthKind           AuthKind          `json:"auth_kind"`
	AuthHeader         string            `json:"auth_header,omitempty"`
	Username           string            `json:"-"`
	Credential         string            `json:"-"`
	ExtraHeaders       map[string]string `json:"-"`
}

// FromConfig converts the file representation, filling defaults.
func FromConfig(p config.ProviderConfig) ServiceConfig {
	cfg := ServiceConfig{
		ID:                 p.ID,
		Kind:               Kind(p.Kind),
		DisplayName:        p.Name,
		BaseURL:            p.BaseURL,
		Timeout:            p.Timeout,
		MaxRetries:         p.MaxRetries,
		RetryBaseDelay:     p.RetryBaseDelay,
		RateLimitPerMinute: p.RateLimitPerMinute,
		Enabled:            p.IsEnabled(),
		AuthKind:           AuthKind(p.AuthKind),
		AuthHeader:         p.AuthHeader,
		Username:           p.Username,
		Credential:         p.Credential,
		ExtraHeaders:       p.Headers,
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.AuthKind == "" {
		cfg.AuthKind = AuthNone
	}
	return cfg
}

// Validate checks the fields an adapter needs to be built.
func (c ServiceConfig) Validate() error {
	if c.ID == "" {
		return errors.New("provider id is required")
	}
	if _, ok := factories[c.Kind]; !ok {
		return fmt.Errorf("provider %s: unknown kind %q", c.ID, c.Kind)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider %s: base_url must be an absolute URL", c.ID)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("provider %s: timeout must be positive", c.ID)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("provider %s: max_retries must not be negative", c.ID)
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("provider %s: retry_base_delay must not be negative", c.ID)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("provider %s: rate_limit_per_minute must not be negative", c.ID)
	}
	switch c.AuthKind {
	case AuthNone:
	case AuthBearer:
		if c.Credential == "" {
			return fmt.Errorf("provider %s: bearer auth requires a credential", c.ID)
		}
	case AuthBasic:
		if c.Username == "" {
			return fmt.Errorf("provider %s: basic auth requires a username", c.ID)
		}
	case AuthCustom:
		if c.AuthHeader == "" || c.Credential == "" {
			return fmt.Errorf("provider %s: custom auth requires auth_header and a credential", c.ID)
		}
	default:
		return fmt.Errorf("provider %s: unknown auth kind %q", c.ID, c.AuthKind)
	}
	return nil
}

// Request is the provider-neutral description of one outbound call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Headers   http.Header

	// IdempotencyKey is forwarded on every attempt so the upstream can
	// recognise a replayed side-effecting call.
	IdempotencyKey string
	// Mutating marks side-effecting operations. Without an IdempotencyKey
	// they are attempted once.
	Mutating bool
}

// Response is a 2xx upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx upstream replies.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// TransportError means no response was received: dial failure, reset
// connection or the per-attempt timeout firing.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "upstream transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseTooLargeError means the upstream body exceeded Limit bytes. The
// reply is discarded rather than passed on truncated.
type ResponseTooLargeError struct {
	Limit int
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("upstream response exceeds %d bytes", e.Limit)
}

// ErrUnsupportedOperation is returned when an adapter is asked to perform
// an operation its kind does not offer.
var ErrUnsupportedOperation = errors.New("operation not supported by provider")

// Adapter is the capability every provider kind implements.
type Adapter interface {
	Kind() Kind
	Do(ctx context.Context, req *Request) (*Response, error)
}
