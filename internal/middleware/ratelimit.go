package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/pkg/response"
)

// slidingWindowScript prunes, counts, and records in one atomic step.
// Scores are millisecond timestamps; nanoseconds would lose precision
// as Lua numbers. Returns {allowed, remaining, reset_at_ms}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		local resetAt = now + window
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if oldest and #oldest >= 2 then
			local oldestAt = tonumber(oldest[2])
			if oldestAt then
				resetAt = oldestAt + window
			end
		end
		return {0, 0, resetAt}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, now + window}
`)

// RateLimit returns a per-user sliding-window limiter backed by Redis
// sorted sets. The whole check-and-record sequence runs as one Lua
// script, so concurrent requests cannot both slip under the limit.
// The limiter fails open when Redis is unavailable.
func RateLimit(client *redis.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if client == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := fmt.Sprintf("ratelimit:upscale:%s", userID)
			now := time.Now()
			member := fmt.Sprintf("%d-%s", now.UnixNano(), r.Header.Get("X-Request-ID"))

			vals, err := slidingWindowScript.Run(ctx, client,
				[]string{key},
				now.UnixMilli(), limit, window.Milliseconds(), member,
			).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAtMs := vals[0] == 1, vals[1], vals[2]

			if !allowed {
				retryAfter := time.Duration(resetAtMs-now.UnixMilli()) * time.Millisecond
				if retryAfter < 0 {
					retryAfter = 0
				}

				seconds := int(retryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAtMs/1000, 10))

				response.TooManyRequests(w, "RATE_LIMITED", "Too many requests, please slow down", map[string]string{
					"retry_after": strconv.Itoa(seconds),
				})
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			next.ServeHTTP(w, r)
		})
	}
}
