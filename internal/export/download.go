package export

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDownloadToken covers every token rejection.
var ErrInvalidDownloadToken = errors.New("invalid download token")

const (
	expiryBytes    = 8
	signatureBytes = 16
)

// DownloadSigner issues short-lived tokens for job artifacts. A token binds
// the job id and the stored artifact key, so it stops working if the job is
// re-run under a new key.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewDownloadSigner creates a signer with a random per-process secret.
func NewDownloadSigner(ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		copy(secret, uuid.New().String())
	}
	return &DownloadSigner{secret: secret, ttl: ttl}
}

// Sign returns a token for the artifact valid until now+ttl. The token is
// the expiry followed by a truncated MAC, base64url encoded.
func (s *DownloadSigner) Sign(jobID uuid.UUID, key string, now time.Time) string {
	buf := make([]byte, expiryBytes, expiryBytes+signatureBytes)
	binary.BigEndian.PutUint64(buf, uint64(now.Add(s.ttl).Unix()))
	buf = append(buf, s.signature(jobID, key, buf[:expiryBytes])...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Verify checks the token against the artifact and the clock.
func (s *DownloadSigner) Verify(jobID uuid.UUID, key, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidDownloadToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != expiryBytes+signatureBytes {
		return fmt.Errorf("%w: malformed", ErrInvalidDownloadToken)
	}
	expiry, provided := raw[:expiryBytes], raw[expiryBytes:]
	if !hmac.Equal(provided, s.signature(jobID, key, expiry)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidDownloadToken)
	}
	if now.Unix() > int64(binary.BigEndian.Uint64(expiry)) {
		return fmt.Errorf("%w: expired", ErrInvalidDownloadToken)
	}
	return nil
}

func (s *DownloadSigner) signature(jobID uuid.UUID, key string, expiry []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(jobID[:])
	mac.Write([]byte(key))
	mac.Write(expiry)
	return mac.Sum(nil)[:signatureBytes]
}
