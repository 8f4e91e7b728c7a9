// Package cache defines the byte cache used for short-lived lookups:
// provider JWKS documents and identity-link reads.
package cache

import "time"

type Cache interface {
	Get(key string) (value []byte, ok bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
