package timedoctor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// refreshSkew absorbs clock drift and in-flight request latency: a
	// credential with less than this remaining is treated as expired.
	refreshSkew = 5 * time.Minute

	// defaultCredentialTTL is used when the login response carries no
	// expiresAt of its own.
	defaultCredentialTTL = 24 * time.Hour
)

// Credential is the single cached bearer credential for the configured
// account, scoped to one company.
type Credential struct {
	Token       string    `json:"token"`
	CompanyID   string    `json:"companyId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Fingerprint string    `json:"fingerprint"`
	CachedAt    time.Time `json:"cachedAt"`
}

// PrincipalFingerprint returns a stable fingerprint for the configured
// login principal. A cached credential whose fingerprint no longer matches
// was issued for someone else and must be discarded.
func PrincipalFingerprint(email, companyName string) string {
	in := strings.ToLower(strings.TrimSpace(email)) + "|" + strings.TrimSpace(companyName)
	sum := sha256.Sum256([]byte(in))
	return hex.EncodeToString(sum[:])
}

// ValidAt reports whether the credential can still be sent at the given
// instant on behalf of the given principal.
func (c *Credential) ValidAt(now time.Time, fingerprint string) bool {
	if c == nil || c.Token == "" {
		return false
	}
	if c.Fingerprint != fingerprint {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-refreshSkew))
}

func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
