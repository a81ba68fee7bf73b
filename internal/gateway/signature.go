package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SignBody returns the "sha256=<hex>" signature of body.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody checks an HMAC-SHA256 signature over a raw request body. The
// signature may carry a "sha256=" prefix.
func VerifyBody(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: secret is empty", ErrInvalidSignature)
	}
	if len(body) == 0 || signature == "" {
		return fmt.Errorf("%w: missing body or signature", ErrInvalidSignature)
	}

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

// CanonicalQuery joins params sorted by key as key=value pairs with both
// sides query-escaped. Keys in skip and empty values are left out.
func CanonicalQuery(params url.Values, skip ...string) string {
	omit := make(map[string]bool, len(skip))
	for _, k := range skip {
		omit[k] = true
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if omit[k] || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// SignCanonical returns the lowercase hex HMAC-SHA512 of the canonical query.
func SignCanonical(secret string, canonical string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyCanonical(secret, canonical, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is empty", ErrInvalidSignature)
	}
	if signature == "" {
		return fmt.Errorf("%w: signature is empty", ErrInvalidSignature)
	}
	expected := SignCanonical(secret, canonical)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}
