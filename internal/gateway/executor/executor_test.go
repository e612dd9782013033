package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/gateway/registry"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

type usageCall struct {
	id, endpoint string
	success      bool
}

type recorder struct {
	mu    sync.Mutex
	usage []usageCall
	logs  []*models.RequestLog
}

func (r *recorder) Record(_ context.Context, id, endpoint string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, usageCall{id, endpoint, success})
	return nil
}

func (r *recorder) LogRequest(_ context.Context, l *models.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
	return nil
}

// upstream replies with statuses in order, repeating the last one.
type upstream struct {
	srv      *httptest.Server
	calls    atomic.Int64
	mu       sync.Mutex
	statuses []int
	keys     []string
}

func newUpstream(t *testing.T, statuses ...int) *upstream {
	u := &upstream{statuses: statuses}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(u.calls.Add(1))
		u.mu.Lock()
		u.keys = append(u.keys, r.Header.Get("Idempotency-Key"))
		u.mu.Unlock()
		status := u.statuses[len(u.statuses)-1]
		if n <= len(u.statuses) {
			status = u.statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func providerConfig(id string, kind providers.Kind, baseURL string) providers.ServiceConfig {
	return providers.ServiceConfig{
		ID:             id,
		Kind:           kind,
		DisplayName:    id,
		BaseURL:        baseURL,
		Timeout:        time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		Enabled:        true,
		AuthKind:       providers.AuthNone,
	}
}

func newExecutor(t *testing.T, cfgs ...providers.ServiceConfig) (*Executor, *recorder) {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	for _, cfg := range cfgs {
		require.NoError(t, reg.Register(cfg))
	}
	rec := &recorder{}
	e := New(reg, ratelimit.NewFixedWindow(time.Minute), zerolog.Nop(), WithUsage(rec), WithRequestLog(rec))
	return e, rec
}

func TestDisabledProviderMakesNoAttempt(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	cfg := providerConfig("maps", providers.KindMaps, up.srv.URL)
	cfg.Enabled = false
	e, rec := newExecutor(t, cfg)

	res := e.Execute(context.Background(), "maps", providers.Directions("a", "b", ""))
	e.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeServiceUnavailable, res.Error.Code)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, up.calls.Load())
	assert.Empty(t, rec.usage)
}

func TestUnknownProvider(t *testing.T) {
	e, _ := newExecutor(t)
	res := e.Execute(context.Background(), "ghost", providers.Directions("a", "b", ""))
	assert.Equal(t, apperrors.CodeServiceUnavailable, res.Error.Code)
	assert.NotEmpty(t, res.RequestID)
}

func TestRetriesUntilSuccess(t *testing.T) {
	up := newUpstream(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	e, rec := newExecutor(t, providerConfig("maps", providers.KindMaps, up.srv.URL))

	res := e.Execute(context.Background(), "maps", providers.Directions("a", "b", ""))
	e.Wait()

	require.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.Retries)
	assert.JSONEq(t, `{"ok":true}`, string(res.Data))
	assert.Equal(t, int64(3), up.calls.Load())

	require.Len(t, rec.usage, 1)
	assert.Equal(t, usageCall{"maps", providers.OpDirections, true}, rec.usage[0])
	require.Len(t, rec.logs, 1)
	assert.Equal(t, 3, rec.logs[0].Attempts)
	assert.Nil(t, rec.logs[0].ErrorMessage)
}

func TestRetriesExhausted(t *testing.T) {
	up := newUpstream(t, http.StatusServiceUnavailable)
	e, rec := newExecutor(t, providerConfig("track", providers.KindTracking, up.srv.URL))

	res := e.Execute(context.Background(), "track", providers.VehicleLocation("v1"))
	e.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 3, res.Retries)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, apperrors.CodeUpstreamError, res.Error.Code)
	assert.Equal(t, int64(4), up.calls.Load())

	require.Len(t, rec.logs, 1)
	assert.False(t, rec.logs[0].Success)
	assert.NotNil(t, rec.logs[0].ErrorMessage)
}

func TestTerminalStatusNotRetried(t *testing.T) {
	up := newUpstream(t, http.StatusBadRequest)
	e, _ := newExecutor(t, providerConfig("track", providers.KindTracking, up.srv.URL))

	res := e.Execute(context.Background(), "track", providers.VehicleLocation("v1"))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUpstreamAuthFailureIsBadGateway(t *testing.T) {
	up := newUpstream(t, http.StatusUnauthorized)
	e, _ := newExecutor(t, providerConfig("track", providers.KindTracking, up.srv.URL))

	res := e.Execute(context.Background(), "track", providers.VehicleLocation("v1"))
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestMutatingWithoutKeyAttemptedOnce(t *testing.T) {
	up := newUpstream(t, http.StatusServiceUnavailable)
	e, _ := newExecutor(t, providerConfig("pay", providers.KindPayment, up.srv.URL))

	req := providers.GetPayment("pay_1")
	req.Method = http.MethodPost
	req.Mutating = true

	res := e.Execute(context.Background(), "pay", req)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(1), up.calls.Load())
}

func TestMutatingWithKeyRetriedWithSameKey(t *testing.T) {
	up := newUpstream(t, http.StatusBadGateway, http.StatusOK)
	e, _ := newExecutor(t, providerConfig("pay", providers.KindPayment, up.srv.URL))

	req, err := providers.CreatePayment(providers.PaymentIntent{BookingID: "b1", Amount: 900, Currency: "EUR"}, "order-7")
	require.NoError(t, err)

	res := e.Execute(context.Background(), "pay", req)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"order-7", "order-7"}, up.keys)
}

func TestOutboundRateLimitFailsFast(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	cfg := providerConfig("maps", providers.KindMaps, up.srv.URL)
	cfg.RateLimitPerMinute = 2
	e, _ := newExecutor(t, cfg)

	for i := 0; i < 2; i++ {
		require.True(t, e.Execute(context.Background(), "maps", providers.Directions("a", "b", "")).Success)
	}
	res := e.Execute(context.Background(), "maps", providers.Directions("a", "b", ""))

	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeRateLimited, res.Error.Code)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Positive(t, res.Error.RetryAfter)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, int64(2), up.calls.Load())
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := providerConfig("partner", providers.KindPartner, srv.URL)
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	e, _ := newExecutor(t, cfg)

	res := e.Execute(context.Background(), "partner", providers.BookingStatus("bk_1"))
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, apperrors.CodeUpstreamTimeout, res.Error.Code)
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)
}

func TestCanceledCallerDoesNotAbortChain(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	e, _ := newExecutor(t, providerConfig("maps", providers.KindMaps, up.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Execute(ctx, "maps", providers.Directions("a", "b", ""))
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), up.calls.Load())
}

func TestPayloadWrapsNonJSON(t *testing.T) {
	assert.Nil(t, payload(nil))
	assert.JSONEq(t, `{"a":1}`, string(payload([]byte(`{"a":1}`))))
	assert.Equal(t, `"plain text"`, string(payload([]byte("plain text"))))
}

func TestOversizedResponseFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"points":"`+strings.Repeat("x", 5<<20)+`"}`)
	}))
	defer srv.Close()

	e, rec := newExecutor(t, providerConfig("maps", providers.KindMaps, srv.URL))

	res := e.Execute(context.Background(), "maps", providers.Directions("a", "b", ""))
	e.Wait()

	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Equal(t, apperrors.CodeUpstreamError, res.Error.Code)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(1), calls.Load())
	require.Len(t, rec.usage, 1)
	assert.False(t, rec.usage[0].success)
}
