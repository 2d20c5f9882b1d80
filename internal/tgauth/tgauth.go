// Package tgauth checks payloads signed by Telegram: Login Widget form posts
// and Mini App initData strings.
package tgauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Mode int

const (
	// LoginWidget payloads are keyed with SHA256(token).
	LoginWidget Mode = iota
	// WebApp payloads are keyed with HMAC_SHA256("WebAppData", token).
	WebApp
)

func (m Mode) String() string {
	switch m {
	case LoginWidget:
		return "login_widget"
	case WebApp:
		return "web_app"
	default:
		return "unknown"
	}
}

const (
	fieldHash     = "hash"
	fieldAuthDate = "auth_date"
)

type Verifier struct {
	token  string
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Verifier)

// WithMaxAge rejects payloads whose auth_date is older than d. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) { v.maxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(token string, opts ...Option) *Verifier {
	v := &Verifier{token: token, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify reports whether payload carries a valid hash for the given mode.
func (v *Verifier) Verify(payload map[string]string, mode Mode) bool {
	received, ok := payload[fieldHash]
	if !ok {
		return false
	}
	authDate, ok := payload[fieldAuthDate]
	if !ok {
		return false
	}
	if v.maxAge > 0 && !v.fresh(authDate) {
		return false
	}
	secret, err := secretKey(v.token, mode)
	if err != nil {
		return false
	}
	expected := computeHash(secret, payload)
	return hmac.Equal([]byte(expected), []byte(received))
}

func (v *Verifier) fresh(authDate string) bool {
	sec, err := strconv.ParseInt(authDate, 10, 64)
	if err != nil {
		return false
	}
	return v.now().Sub(time.Unix(sec, 0)) <= v.maxAge
}

// Sign returns the hash Telegram would attach to payload. The hash field itself is ignored.
func Sign(token string, payload map[string]string, mode Mode) (string, error) {
	secret, err := secretKey(token, mode)
	if err != nil {
		return "", err
	}
	return computeHash(secret, payload), nil
}

// CheckString renders the sorted key=value lines used as the HMAC message.
func CheckString(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != fieldHash {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + payload[k]
	}
	return strings.Join(lines, "\n")
}

// ParseInitData decodes a Mini App initData query string, keeping the first value of each key.
func ParseInitData(raw string) (map[string]string, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out, nil
}

// EncodeInitData is the inverse of ParseInitData.
func EncodeInitData(payload map[string]string) string {
	values := url.Values{}
	for k, v := range payload {
		values.Set(k, v)
	}
	return values.Encode()
}

func secretKey(token string, mode Mode) ([]byte, error) {
	switch mode {
	case LoginWidget:
		sum := sha256.Sum256([]byte(token))
		return sum[:], nil
	case WebApp:
		mac := hmac.New(sha256.New, []byte("WebAppData"))
		mac.Write([]byte(token))
		return mac.Sum(nil), nil
	}
	return nil, fmt.Errorf("unknown mode %d", mode)
}

func computeHash(secret []byte, payload map[string]string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CheckString(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}
