package parts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const fingerprintLength = 16

// Fingerprint returns the cache key of a bin request.
func (r BinRequest) Fingerprint() string {
	return mustFingerprint("bin", r)
}

// Fingerprint returns the cache key of a baseplate request.
func (r BaseplateRequest) Fingerprint() string {
	return mustFingerprint("baseplate", r)
}

// ItemFingerprint returns the cache key of a plate item payload, or "" for
// an empty item.
func ItemFingerprint(item Item) string {
	switch it := item.(type) {
	case BinItem:
		return it.Bin.Fingerprint()
	case BaseplateItem:
		return it.Baseplate.Fingerprint()
	default:
		return ""
	}
}

// Fingerprint canonicalizes v to key-sorted JSON, hashes it and prefixes the
// truncated digest with kind. Logically equal values always produce the
// same key regardless of field order.
func Fingerprint(kind string, v any) (string, error) {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("canonicalizing %s request: %w", kind, err)
	}
	sum := sha256.Sum256(canonical)
	return kind + "-" + hex.EncodeToString(sum[:])[:fingerprintLength], nil
}

// Request structs always marshal; a failure here is a programming error.
func mustFingerprint(kind string, v any) string {
	key, err := Fingerprint(kind, v)
	if err != nil {
		panic(err)
	}
	return key
}

func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
