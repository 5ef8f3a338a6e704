package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"procurement/pkg/response"
)

// provisionalLockTTL bounds how long an in-flight request holds its
// key before the final response must have been recorded.
const provisionalLockTTL = 60 * time.Second

type idempEntry struct {
	InProgress bool   `json:"in_progress"`
	Code       int    `json:"code"`
	Body       []byte `json:"body"`
	BodySHA256 string `json:"body_sha256"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency dedupes mutating requests carrying an Idempotency-Key
// header. The first request records its response in Redis; retries with
// the same key and body get the stored response replayed, retries with
// a different body are rejected. Requests without the header pass
// through untouched.
func Idempotency(rdb *redis.Client, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		if key == "" {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		sum := sha256.Sum256(body)
		bhash := hex.EncodeToString(sum[:])

		redisKey := "idemp:" + c.Request.Method + ":" + c.FullPath() + ":" + key

		entry := idempEntry{InProgress: true, BodySHA256: bhash}
		raw, _ := json.Marshal(entry)
		ok, err := rdb.SetNX(c.Request.Context(), redisKey, raw, provisionalLockTTL).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, response.Error("idempotency store unavailable"))
			return
		}

		if !ok {
			stored, loadErr := rdb.Get(c.Request.Context(), redisKey).Bytes()
			if loadErr == nil {
				var cur idempEntry
				if json.Unmarshal(stored, &cur) == nil {
					if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
						c.AbortWithStatusJSON(http.StatusConflict, response.Error("Idempotency-Key reused with different body"))
						return
					}
					if !cur.InProgress && cur.Code != 0 {
						c.Data(cur.Code, "application/json", cur.Body)
						c.Abort()
						return
					}
				}
			}
			c.AbortWithStatusJSON(http.StatusConflict, response.Error("request is already in progress"))
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		final := idempEntry{
			Code:       rec.Status(),
			Body:       rec.buf.Bytes(),
			BodySHA256: bhash,
		}
		raw, _ = json.Marshal(final)
		_ = rdb.Set(c.Request.Context(), redisKey, raw, ttl).Err()
	}
}
