package timedoctor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type loginServerOptions struct {
	token     string
	expiresAt string
	companies map[string]loginCompany
	status    int
	body      string
	delay     time.Duration
}

func newLoginServer(t *testing.T, logins *atomic.Int64, opts loginServerOptions) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginEndpoint {
			http.NotFound(w, r)
			return
		}
		logins.Add(1)
		if opts.delay > 0 {
			time.Sleep(opts.delay)
		}
		if opts.status != 0 && opts.status != http.StatusOK {
			w.WriteHeader(opts.status)
			w.Write([]byte(opts.body))
			return
		}

		resp := loginResponse{}
		resp.Data.Token = opts.token
		resp.Data.ExpiresAt = opts.expiresAt
		resp.Data.Companies = opts.companies
		json.NewEncoder(w).Encode(resp)
	}))
}

func acmeCompanies() map[string]loginCompany {
	return map[string]loginCompany{
		"c1": {ID: json.RawMessage(`"c1"`), Name: "Acme"},
		"c2": {ID: json.RawMessage(`22`), Name: "Globex"},
	}
}

func newTestAuthManager(srv *httptest.Server, store CredentialStore, now func() time.Time) *AuthManager {
	return NewAuthManager(testLogger(), store, AuthConfig{
		BaseURL:     srv.URL,
		Email:       "ops@example.com",
		Password:    "secret",
		CompanyName: "Acme",
		HTTPClient:  srv.Client(),
		Now:         now,
	})
}

func TestGetCredential_LoginOnceThenCached(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "tok-1", companies: acmeCompanies()})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nil)
	ctx := context.Background()

	cred, err := m.GetCredential(ctx)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if cred.Token != "tok-1" {
		t.Errorf("expected token tok-1, got %q", cred.Token)
	}
	if cred.CompanyID != "c1" {
		t.Errorf("expected company id c1, got %q", cred.CompanyID)
	}

	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("expected exactly 1 login, got %d", got)
	}
}

func TestGetCredential_ConcurrentCallersSingleLogin(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{
		token:     "tok-1",
		companies: acmeCompanies(),
		delay:     50 * time.Millisecond,
	})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := m.GetCredential(ctx)
			if err != nil {
				errs <- err
				return
			}
			if cred.Token != "tok-1" {
				errs <- errors.New("wrong token")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}

	if got := logins.Load(); got != 1 {
		t.Errorf("expected exactly 1 login for 10 concurrent callers, got %d", got)
	}
}

func TestGetCredential_RefreshesInsideSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{
		token:     "tok-1",
		expiresAt: now.Add(10 * time.Minute).Format(time.RFC3339),
		companies: acmeCompanies(),
	})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nowFn)
	ctx := context.Background()

	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatalf("first get: %v", err)
	}

	// 9 minutes remain: still outside the 5-minute skew
	mu.Lock()
	now = now.Add(1 * time.Minute)
	mu.Unlock()
	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if got := logins.Load(); got != 1 {
		t.Fatalf("expected no refresh with 9m remaining, got %d logins", got)
	}

	// 4 minutes remain: inside the skew, must refresh
	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatalf("refresh get: %v", err)
	}
	if got := logins.Load(); got != 2 {
		t.Errorf("expected refresh inside skew, got %d logins", got)
	}
}

func TestGetCredential_PrincipalChangeDiscardsCache(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "tok-new", companies: acmeCompanies()})
	defer srv.Close()

	store := NewMemoryStore()
	stale := &Credential{
		Token:       "tok-stale",
		CompanyID:   "c9",
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: PrincipalFingerprint("someone-else@example.com", "Acme"),
		CachedAt:    time.Now(),
	}
	if err := store.Save(context.Background(), stale); err != nil {
		t.Fatal(err)
	}

	m := newTestAuthManager(srv, store, nil)
	cred, err := m.GetCredential(context.Background())
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if cred.Token != "tok-new" {
		t.Errorf("expected stale cache to be discarded, got token %q", cred.Token)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("expected 1 login after principal change, got %d", got)
	}
}

func TestInvalidate_ForcesRelogin(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "tok-1", companies: acmeCompanies()})
	defer srv.Close()

	store := NewMemoryStore()
	m := newTestAuthManager(srv, store, nil)
	ctx := context.Background()

	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if stored, _ := store.Load(ctx); stored != nil {
		t.Error("expected store cleared on invalidate")
	}

	if _, err := m.GetCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if got := logins.Load(); got != 2 {
		t.Errorf("expected relogin after invalidate, got %d logins", got)
	}
}

func TestAuthenticate_CompanyMatchedByMapKey(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{
		token: "tok-1",
		companies: map[string]loginCompany{
			"acme": {ID: json.RawMessage(`"id-77"`)},
		},
	})
	defer srv.Close()

	m := NewAuthManager(testLogger(), NewMemoryStore(), AuthConfig{
		BaseURL:     srv.URL,
		Email:       "ops@example.com",
		Password:    "secret",
		CompanyName: "acme",
		HTTPClient:  srv.Client(),
	})

	cred, err := m.GetCredential(context.Background())
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if cred.CompanyID != "id-77" {
		t.Errorf("expected company id id-77, got %q", cred.CompanyID)
	}
}

func TestAuthenticate_NumericCompanyID(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "tok-1", companies: acmeCompanies()})
	defer srv.Close()

	m := NewAuthManager(testLogger(), NewMemoryStore(), AuthConfig{
		BaseURL:     srv.URL,
		Email:       "ops@example.com",
		Password:    "secret",
		CompanyName: "Globex",
		HTTPClient:  srv.Client(),
	})

	cred, err := m.GetCredential(context.Background())
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if cred.CompanyID != "22" {
		t.Errorf("expected numeric id normalized to \"22\", got %q", cred.CompanyID)
	}
}

func TestAuthenticate_CompanyNotFoundListsAvailable(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "tok-1", companies: acmeCompanies()})
	defer srv.Close()

	m := NewAuthManager(testLogger(), NewMemoryStore(), AuthConfig{
		BaseURL:     srv.URL,
		Email:       "ops@example.com",
		Password:    "secret",
		CompanyName: "Initech",
		HTTPClient:  srv.Client(),
	})

	_, err := m.GetCredential(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Kind != AuthCompanyNotFound {
		t.Fatalf("expected company_not_found, got %s", authErr.Kind)
	}
	if len(authErr.Companies) != 2 || authErr.Companies[0] != "Acme" || authErr.Companies[1] != "Globex" {
		t.Errorf("expected sorted available companies, got %v", authErr.Companies)
	}
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{
		status: http.StatusUnauthorized,
		body:   `{"error":"invalid email or password"}`,
	})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nil)
	_, err := m.GetCredential(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != AuthInvalidCredentials {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestAuthenticate_TwoFactorRequired(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{
		status: http.StatusUnauthorized,
		body:   `{"error":"totpCode required for this account"}`,
	})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nil)
	_, err := m.GetCredential(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != AuthTwoFactorRequired {
		t.Fatalf("expected two_factor_required, got %v", err)
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	var logins atomic.Int64
	srv := newLoginServer(t, &logins, loginServerOptions{token: "", companies: acmeCompanies()})
	defer srv.Close()

	m := newTestAuthManager(srv, NewMemoryStore(), nil)
	_, err := m.GetCredential(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != AuthMalformed {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}
