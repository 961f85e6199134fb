package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"
)

// SharedTier is a key-value store visible to every session, such as memcache.
// Implementations must be safe for concurrent use. A missing key is reported as
// (nil, false, nil).
type SharedTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key families of the shared tier.
const (
	listingKeyPrefix = "listing:"
	tokenKeyPrefix   = "auth-token:"
)

// ListingKey is the shared-tier key of the listing of path for one account.
func ListingKey(endpoint, user, path string) string {
	return listingKeyPrefix + digest(endpoint, user, path)
}

// TokenKey is the shared-tier key of a cached auth token. The secret is part of
// the digest so a changed password never reuses an old token.
func TokenKey(endpoint, user, secret string) string {
	return tokenKeyPrefix + digest(endpoint, user, secret)
}

func digest(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Value encodings; the first byte of every stored value names it.
const (
	formatJSON byte = 'j'
	formatGzip byte = 'z'
)

// EncodeValue serialises v as JSON, gzip-compressing it when the JSON is longer
// than threshold bytes. A threshold <= 0 disables compression.
func EncodeValue(v interface{}, threshold int) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	if threshold <= 0 || len(raw) <= threshold {
		return append([]byte{formatJSON}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(formatGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress cache value: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress cache value: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeValue reverses EncodeValue.
func DecodeValue(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty cache value")
	}
	raw := data[1:]
	switch data[0] {
	case formatJSON:
	case formatGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("failed to decompress cache value: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("failed to decompress cache value: %w", err)
		}
	default:
		return fmt.Errorf("unknown cache value format %q", data[0])
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}
