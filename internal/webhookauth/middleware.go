package webhookauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultSignatureHeader = "X-Topup-Signature"
	defaultTimestampHeader = "X-Topup-Timestamp"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrMissingTimestamp = errors.New("missing webhook timestamp")
	ErrStaleTimestamp   = errors.New("stale webhook timestamp")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier checks HMAC-SHA256 signatures over timestamp || body on
// provider callbacks. An empty Secret disables verification.
type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	SignatureHeader string
	TimestampHeader string
	Now             func() time.Time
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) verify(r *http.Request) error {
	if v.Secret == "" {
		return nil
	}

	sigHeader := v.SignatureHeader
	if sigHeader == "" {
		sigHeader = defaultSignatureHeader
	}
	tsHeaderName := v.TimestampHeader
	if tsHeaderName == "" {
		tsHeaderName = defaultTimestampHeader
	}

	sigHex := r.Header.Get(sigHeader)
	if sigHex == "" {
		return ErrMissingSignature
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrInvalidSignature
	}

	tsHeader := r.Header.Get(tsHeaderName)
	if tsHeader == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write([]byte(tsHeader))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
