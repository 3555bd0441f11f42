package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-escrow/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-escrow/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
)

// idempotencyRule matches a POST path template; "{...}" segments match any value.
type idempotencyRule struct {
	method   string
	segments []string
	ttl      time.Duration
}

func postRule(template string, ttl time.Duration) idempotencyRule {
	return idempotencyRule{
		method:   http.MethodPost,
		segments: strings.Split(strings.Trim(template, "/"), "/"),
		ttl:      ttl,
	}
}

func (rule idempotencyRule) matches(method, path string) bool {
	if rule.method != method {
		return false
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != len(rule.segments) {
		return false
	}
	for i, seg := range rule.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

var idempotencyRules = []idempotencyRule{
	postRule("/api/v1/orders", defaultIdempotencyTTL),
	postRule("/api/v1/orders/{orderId}/shipment", defaultIdempotencyTTL),
	postRule("/api/v1/orders/{orderId}/confirm-receipt", defaultIdempotencyTTL),
	postRule("/api/v1/orders/{orderId}/confirm-quality", defaultIdempotencyTTL),
	postRule("/api/v1/orders/{orderId}/release-escrow", defaultIdempotencyTTL),
	postRule("/api/v1/wallet/pin", defaultIdempotencyTTL),
	// money leaves the platform
	postRule("/api/v1/wallet/withdraw", criticalIdempotencyTTL),
}

func routeTTL(method, path string) (time.Duration, bool) {
	for _, rule := range idempotencyRules {
		if rule.matches(method, path) {
			return rule.ttl, true
		}
	}
	return 0, false
}

// idempotencyRecord is what Redis holds per key. InFlight marks a claim whose
// handler has not finished yet.
type idempotencyRecord struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency requires an Idempotency-Key on state-changing escrow and wallet
// POSTs. The first request claims the key; completed non-5xx responses are
// replayed verbatim for the rule's TTL, and a different body under the same key
// is rejected. Matching uses the request path, so the middleware can sit on a
// parent router before chi has resolved the final route pattern.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			if existing, err := loadRecord(ctx, store, key); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			} else if existing != nil {
				replayOrReject(ctx, logg, w, existing, hash)
				return
			}

			claimed, err := storeRecord(ctx, store, key, idempotencyRecord{InFlight: true, RequestHash: hash}, min(inFlightTTL, ttl))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is in progress"))
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			status := capture.statusCode()

			// Release the claim; a 5xx leaves the key free for a retry.
			if err := store.Del(ctx, key); err != nil && logg != nil {
				logg.Error(ctx, "release idempotency claim", err)
			}
			if status >= http.StatusInternalServerError {
				return
			}
			final := idempotencyRecord{
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			if _, err := storeRecord(ctx, store, key, final, ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, rec *idempotencyRecord, hash string) {
	switch {
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.InFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func loadRecord(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*idempotencyRecord, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func storeRecord(ctx context.Context, store pkgredis.IdempotencyStore, key string, rec idempotencyRecord, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(payload), ttl)
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
