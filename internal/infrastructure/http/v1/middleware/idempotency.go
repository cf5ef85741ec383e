package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/infrastructure/storage/postgres"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const (
	contextIdempotencyKey   = "idempotency_key"
	contextIdempotencyStore = "idempotency_store"
)

// IdempotencyStore is the persistence used by Idempotency.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, key, operatorID, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error
	ReleaseKey(ctx context.Context, key string) error
}

var _ IdempotencyStore = (*postgres.IdempotencyStore)(nil)

// Idempotency replays the stored response of a repeated POST carrying the
// same X-Idempotency-Key, so a retried upload or cancel never reaches the
// authority twice. Requests without the header pass through.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, _ := io.ReadAll(limited)
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)
		requestHash := hex.EncodeToString(hash[:])

		operation := c.Request.Method + " " + c.FullPath()
		operatorID := appctx.GetOperatorID(c.Request.Context())

		replay, err := store.AcquireKey(c.Request.Context(), key, operatorID, operation, requestHash)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				_ = c.Error(appErr)
			} else {
				_ = c.Error(apperror.NewInternal(err).WithDetail("component", "idempotency"))
			}
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("Idempotent-Replay", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(contextIdempotencyKey, key)
		c.Set(contextIdempotencyStore, store)

		c.Next()
	}
}

func idempotencyFrom(c *gin.Context) (IdempotencyStore, string, bool) {
	key := c.GetString(contextIdempotencyKey)
	if key == "" {
		return nil, "", false
	}
	store, ok := c.Value(contextIdempotencyStore).(IdempotencyStore)
	if !ok || store == nil {
		return nil, "", false
	}
	return store, key, true
}

// CompleteIdempotency stores the response for replay (best-effort).
func CompleteIdempotency(c *gin.Context, statusCode int, contentType string, response any) {
	if store, key, ok := idempotencyFrom(c); ok {
		_ = store.CompleteKey(c.Request.Context(), key, statusCode, contentType, response)
	}
}

// ReleaseIdempotency drops the key so the same request may be retried.
func ReleaseIdempotency(c *gin.Context) {
	if store, key, ok := idempotencyFrom(c); ok {
		_ = store.ReleaseKey(c.Request.Context(), key)
	}
}
