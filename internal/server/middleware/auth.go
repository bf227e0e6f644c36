package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

// signatureSkew is how far a signed request's timestamp may drift from now.
const signatureSkew = 30 * time.Second

// AuthConfig selects the accepted credentials. With neither set,
// authentication is disabled.
type AuthConfig struct {
	// APIKey is accepted as a Bearer token or in X-API-Key.
	APIKey string
	// Signer verifies X-SR-* HMAC headers over timestamp+method+path+body.
	Signer *crypto.HMACAuth
	Now    func() time.Time
}

// Auth returns middleware that validates API requests using either a static
// key (Bearer token or X-API-Key) or an HMAC request signature.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" && !cfg.Signer.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get(crypto.HeaderSignature) != "" && cfg.Signer.Enabled() {
				if msg := verifySignature(cfg, r); msg != "" {
					writeUnauthorized(w, msg)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.APIKey == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifySignature checks the X-SR-* headers and restores r.Body. It returns
// an error message, or "" when the signature is valid.
func verifySignature(cfg AuthConfig, r *http.Request) string {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(crypto.HeaderKey)), []byte(cfg.Signer.Key)) != 1 {
		return "unknown api key"
	}
	tsHeader := r.Header.Get(crypto.HeaderTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return "invalid signature timestamp"
	}
	if d := cfg.Now().Sub(time.Unix(ts, 0)); d > signatureSkew || d < -signatureSkew {
		return "signature timestamp out of range"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return "unreadable request body"
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	if !cfg.Signer.Verify(r.Method, path, string(body), tsHeader, r.Header.Get(crypto.HeaderSignature)) {
		return "invalid request signature"
	}
	return ""
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
