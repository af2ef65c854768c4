package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// ReplayHeader marks responses served from the store.
	ReplayHeader = "X-Idempotent-Replay"
	maxKeyLength = 255
)

type options struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
	logger   *zap.Logger
}

// Option customises the middleware.
type Option func(*options)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithRequired rejects mutating requests that carry no key.
func WithRequired() Option {
	return func(o *options) { o.required = true }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger routes store failures to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type committedKey struct{}

// MarkCommitted tells the middleware that the request changed state even though its response
// may be a server error. Such a response is stored and replayed like any other, so a retry
// cannot apply the change twice.
func MarkCommitted(ctx context.Context) {
	if flag, ok := ctx.Value(committedKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}

// Middleware replays stored responses for repeated keys. Requests without a key pass through
// unless WithRequired is set. Server errors are not remembered, so a retry after a 5xx runs the
// handler again, unless the handler called MarkCommitted.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger.Named("idempotency")

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			if key == "" {
				if o.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+o.header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := requesterOf(ctx)
			scoped := requester + "|" + key
			fingerprint := fingerprintOf(r, body, requester)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, o.clock(), o.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				logger.Error("reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			committed := new(atomic.Bool)
			r = r.WithContext(context.WithValue(ctx, committedKey{}, committed))
			rec := &capture{header: make(http.Header)}
			func() {
				defer func() {
					if p := recover(); p != nil {
						releaseKey(ctx, store, scoped, fingerprint, logger)
						panic(p)
					}
				}()
				next.ServeHTTP(rec, r)
			}()

			if rec.statusCode() >= http.StatusInternalServerError && !committed.Load() {
				releaseKey(ctx, store, scoped, fingerprint, logger)
			} else {
				resp := Response{Status: rec.statusCode(), Headers: rec.header, Body: rec.body.Bytes()}
				if err := store.SaveResponse(context.WithoutCancel(ctx), scoped, fingerprint, resp, o.clock(), o.ttl); err != nil {
					logger.Warn("save response failed", zap.Error(err))
					releaseKey(ctx, store, scoped, fingerprint, logger)
				}
			}
			rec.flushTo(w)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func releaseKey(ctx context.Context, store Store, key, fingerprint string, logger *zap.Logger) {
	if err := store.Release(context.WithoutCancel(ctx), key, fingerprint); err != nil {
		logger.Warn("release failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requesterOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte, requester string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range replayHeaders(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(ReplayHeader, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// capture buffers the handler output until the store has been updated.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capture) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.statusCode())
	if c.body.Len() > 0 {
		_, _ = w.Write(c.body.Bytes())
	}
}
