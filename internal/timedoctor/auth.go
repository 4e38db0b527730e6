package timedoctor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"worktime-monitor/internal/logging"
)

const loginEndpoint = "/api/1.0/login"

type AuthConfig struct {
	BaseURL     string
	Email       string
	Password    string
	TOTPCode    string
	Permissions string // defaults to "write"
	CompanyName string

	// HTTPClient and Now are injectable for tests; both default sanely.
	HTTPClient *http.Client
	Now        func() time.Time
}

// AuthManager is the single source of truth for a currently valid
// credential. All refreshes happen under one mutex: concurrent callers that
// arrive while a login is in flight block on it and then pick up the fresh
// credential instead of issuing their own login. Duplicate logins can
// invalidate sibling sessions upstream, so this is a correctness rule.
type AuthManager struct {
	cfg         AuthConfig
	store       CredentialStore
	http        *http.Client
	logger      *slog.Logger
	now         func() time.Time
	fingerprint string

	mu     sync.Mutex
	cred   *Credential
	loaded bool
}

func NewAuthManager(logger *slog.Logger, store CredentialStore, cfg AuthConfig) *AuthManager {
	if cfg.Permissions == "" {
		cfg.Permissions = "write"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if store == nil {
		store = NewMemoryStore()
	}

	return &AuthManager{
		cfg:         cfg,
		store:       store,
		http:        httpClient,
		logger:      logger,
		now:         now,
		fingerprint: PrincipalFingerprint(cfg.Email, cfg.CompanyName),
	}
}

// GetCredential returns a valid credential, logging in or refreshing as
// needed. It never returns an expired credential.
func (m *AuthManager) GetCredential(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		m.loadFromStore(ctx)
		m.loaded = true
	}

	if m.cred.ValidAt(m.now(), m.fingerprint) {
		return m.cred.clone(), nil
	}

	return m.authenticateLocked(ctx)
}

// Authenticate forces a fresh login regardless of the cached credential.
func (m *AuthManager) Authenticate(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	return m.authenticateLocked(ctx)
}

// Invalidate drops the cached credential in memory and in the store; the
// next GetCredential performs a full login.
func (m *AuthManager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cred = nil
	m.loaded = true
	return m.store.Clear(ctx)
}

func (m *AuthManager) loadFromStore(ctx context.Context) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("credential_cache_load_failed", "error", err)
		return
	}
	if cred == nil {
		return
	}
	if cred.Fingerprint != m.fingerprint {
		m.logger.Info("credential_cache_principal_changed", "cached_at", cred.CachedAt)
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("credential_cache_clear_failed", "error", err)
		}
		return
	}
	m.cred = cred
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Permissions string `json:"permissions"`
	TOTPCode    string `json:"totpCode,omitempty"`
}

type loginCompany struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

type loginResponse struct {
	Data struct {
		Token     string                  `json:"token"`
		ExpiresAt string                  `json:"expiresAt"`
		Companies map[string]loginCompany `json:"companies"`
	} `json:"data"`
}

func (m *AuthManager) authenticateLocked(ctx context.Context) (*Credential, error) {
	body, err := json.Marshal(loginRequest{
		Email:       m.cfg.Email,
		Password:    m.cfg.Password,
		Permissions: m.cfg.Permissions,
		TOTPCode:    m.cfg.TOTPCode,
	})
	if err != nil {
		return nil, &AuthError{Kind: AuthMalformed, Message: "encode login request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+loginEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Kind: AuthMalformed, Message: "build login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, &RequestError{Kind: RequestUnreachable, Endpoint: loginEndpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if looksLikeTwoFactor(respBody) {
			return nil, &AuthError{Kind: AuthTwoFactorRequired, Message: "upstream requires a TOTP code"}
		}
		return nil, &AuthError{Kind: AuthInvalidCredentials, Message: truncate(string(respBody), 300)}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Kind: AuthForbidden, Message: truncate(string(respBody), 300)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &AuthError{
			Kind:    AuthMalformed,
			Message: fmt.Sprintf("unexpected login status %d: %s", resp.StatusCode, truncate(string(respBody), 300)),
		}
	}

	var login loginResponse
	if err := json.Unmarshal(respBody, &login); err != nil {
		return nil, &AuthError{Kind: AuthMalformed, Message: "decode login response", Err: err}
	}
	if login.Data.Token == "" {
		return nil, &AuthError{Kind: AuthMalformed, Message: "login response has no token"}
	}

	companyID, err := m.resolveCompany(login.Data.Companies)
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiresAt := now.Add(defaultCredentialTTL)
	if login.Data.ExpiresAt != "" {
		if parsed, perr := time.Parse(time.RFC3339, login.Data.ExpiresAt); perr == nil {
			expiresAt = parsed
		} else {
			m.logger.Warn("login_expiry_unparseable", "value", login.Data.ExpiresAt)
		}
	}

	cred := &Credential{
		Token:       login.Data.Token,
		CompanyID:   companyID,
		ExpiresAt:   expiresAt,
		Fingerprint: m.fingerprint,
		CachedAt:    now,
	}

	if err := m.store.Save(ctx, cred); err != nil {
		// a dead cache store must not block a successful login
		m.logger.Warn("credential_cache_save_failed", "error", err)
	}
	m.cred = cred

	m.logger.Info("authenticated",
		"token", logging.MaskToken(cred.Token),
		"company_id", cred.CompanyID,
		"expires_at", cred.ExpiresAt,
	)

	return cred.clone(), nil
}

// resolveCompany matches the configured company name against either the
// entry's name field or the map key; the login response uses both shapes
// depending on the account. On failure the error enumerates every available
// company, since a misspelled name is the dominant configuration mistake.
func (m *AuthManager) resolveCompany(companies map[string]loginCompany) (string, error) {
	want := strings.TrimSpace(m.cfg.CompanyName)

	available := make([]string, 0, len(companies))
	for key, entry := range companies {
		if strings.EqualFold(strings.TrimSpace(entry.Name), want) || strings.EqualFold(key, want) {
			return companyIDString(entry.ID, key), nil
		}
		if entry.Name != "" {
			available = append(available, entry.Name)
		} else {
			available = append(available, key)
		}
	}

	sort.Strings(available)
	return "", &AuthError{
		Kind:      AuthCompanyNotFound,
		Message:   fmt.Sprintf("company %q not found in login response", want),
		Companies: available,
	}
}

// companyIDString normalizes an id that upstream serializes as either a
// JSON string or a bare number; the map key is the fallback.
func companyIDString(raw json.RawMessage, fallback string) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return fallback
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

func looksLikeTwoFactor(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "totp") || strings.Contains(lower, "2fa") || strings.Contains(lower, "two-factor")
}
