package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonwraymond/semian/auth"
	"github.com/jonwraymond/semian/config"
	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/shm"
)

const (
	viewerKey   = "viewer-key"
	operatorKey = "operator-key"
)

type fixture struct {
	registry *resilience.Registry
	guard    *resilience.Guard
	server   *Server
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := resilience.NewRegistry(resilience.RegistryConfig{Store: shm.NewMemoryStore()})
	t.Cleanup(func() { _ = registry.Close() })

	authn, err := AuthenticatorFromConfig(config.AdminConfig{
		APIKeys: []config.APIKeyConfig{
			{ID: "v", Principal: "vera", Key: viewerKey, Roles: []string{auth.RoleViewer}},
			{ID: "o", Principal: "otto", Key: operatorKey, Roles: []string{auth.RoleOperator}},
		},
	})
	if err != nil {
		t.Fatalf("AuthenticatorFromConfig() error = %v", err)
	}

	logs := &bytes.Buffer{}
	server, err := New(Config{
		Registry:      registry,
		Authenticator: authn,
		Logger:        observe.NewLoggerWithWriter("info", logs),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	opts := resilience.DefaultOptions()
	opts.ErrorThreshold = 1
	return &fixture{
		registry: registry,
		guard:    resilience.NewGuard(registry, resilience.Static(opts)),
		server:   server,
		logs:     logs,
	}
}

func (f *fixture) trip(t *testing.T, id string) {
	t.Helper()
	_ = f.guard.Execute(context.Background(), id, func(context.Context) error {
		return errors.New("boom")
	})
	st, err := f.registry.Status(id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != resilience.StateOpen {
		t.Fatalf("State = %v, want open", st.State)
	}
}

func (f *fixture) do(t *testing.T, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrMissingRegistry) {
		t.Errorf("New() error = %v, want ErrMissingRegistry", err)
	}
}

func TestListResources(t *testing.T) {
	f := newFixture(t)
	f.trip(t, "mysql_shard_0")
	if err := f.guard.Execute(context.Background(), "redis", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/v1/resources", viewerKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Resources) != 2 {
		t.Fatalf("len(Resources) = %d, want 2", len(resp.Resources))
	}
	if resp.Resources[0].Identifier != "mysql_shard_0" || resp.Resources[0].State != resilience.StateOpen {
		t.Errorf("Resources[0] = %+v, want mysql_shard_0 open", resp.Resources[0])
	}
	if resp.Resources[1].Identifier != "redis" || resp.Resources[1].State != resilience.StateClosed {
		t.Errorf("Resources[1] = %+v, want redis closed", resp.Resources[1])
	}
}

func TestListResources_SeesOtherRegistries(t *testing.T) {
	f := newFixture(t)

	// A second registry over the same store stands in for another process.
	other := resilience.NewRegistry(resilience.RegistryConfig{Store: f.registry.Store()})
	defer other.Close()
	if _, err := other.FetchOrCreate("elsewhere", resilience.DefaultOptions()); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/v1/resources", viewerKey)
	if !strings.Contains(rec.Body.String(), `"identifier":"elsewhere"`) {
		t.Errorf("Body = %s, want elsewhere listed", rec.Body.String())
	}
}

func TestGetResource(t *testing.T) {
	f := newFixture(t)
	f.trip(t, "mysql_shard_0")

	rec := f.do(t, http.MethodGet, "/v1/resources/mysql_shard_0", viewerKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	var st resilience.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != resilience.StateOpen || st.Tickets != 3 || st.ConsecutiveFailures != 1 {
		t.Errorf("Status = %+v", st)
	}

	rec = f.do(t, http.MethodGet, "/v1/resources/missing", viewerKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: Status = %d, want 404", rec.Code)
	}
}

func TestResetResource(t *testing.T) {
	f := newFixture(t)
	f.trip(t, "mysql_shard_0")

	rec := f.do(t, http.MethodPost, "/v1/resources/mysql_shard_0/reset", viewerKey)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer: Status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/resources/mysql_shard_0/reset", operatorKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("operator: Status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var st resilience.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != resilience.StateClosed || st.Available != st.Tickets {
		t.Errorf("Status after reset = %+v, want closed with every ticket", st)
	}

	if !strings.Contains(f.logs.String(), `"principal":"otto"`) {
		t.Errorf("audit log missing principal: %s", f.logs.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/resources/missing/reset", operatorKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: Status = %d, want 404", rec.Code)
	}
}

func TestDestroyResource(t *testing.T) {
	f := newFixture(t)
	f.trip(t, "mysql_shard_0")

	rec := f.do(t, http.MethodDelete, "/v1/resources/mysql_shard_0", viewerKey)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer: Status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/resources/mysql_shard_0", operatorKey)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("operator: Status = %d, want 204", rec.Code)
	}
	if _, err := f.registry.Status("mysql_shard_0"); !errors.Is(err, resilience.ErrUnknownResource) {
		t.Errorf("Status() after destroy error = %v, want ErrUnknownResource", err)
	}

	// Next use rebuilds fresh state.
	if err := f.guard.Execute(context.Background(), "mysql_shard_0", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Execute() after destroy error = %v", err)
	}
}

func TestResourceRoutes_RequireAuth(t *testing.T) {
	f := newFixture(t)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/v1/resources"},
		{http.MethodGet, "/v1/resources/x"},
		{http.MethodPost, "/v1/resources/x/reset"},
		{http.MethodDelete, "/v1/resources/x"},
	} {
		rec := f.do(t, tt.method, tt.path, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: Status = %d, want 401", tt.method, tt.path, rec.Code)
		}
	}
}

func TestJWTAuthentication(t *testing.T) {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()

	cfg := config.AdminConfig{JWT: config.JWTConfig{Secret: "s3cret", Issuer: "semian"}}
	authn, err := AuthenticatorFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	server, err := New(Config{Registry: registry, Authenticator: authn})
	if err != nil {
		t.Fatal(err)
	}

	token, err := auth.IssueToken(JWTConfig(cfg.JWT), auth.TokenSpec{
		Subject: "alice",
		Roles:   []string{auth.RoleViewer},
		TTL:     time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/resources", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAnonymousRole(t *testing.T) {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()
	authn, err := AuthenticatorFromConfig(config.AdminConfig{AnonymousRole: auth.RoleViewer})
	if err != nil {
		t.Fatal(err)
	}
	server, err := New(Config{Registry: registry, Authenticator: authn})
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/v1/resources", http.StatusOK},
		{http.MethodPost, "/v1/resources/x/reset", http.StatusForbidden},
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: Status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t)
	f.trip(t, "mysql_shard_0")

	rec := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz Status = %d, want 200", rec.Code)
	}

	// An open circuit is reported but does not fail readiness.
	rec = f.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz Status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health Status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "resource:mysql_shard_0") {
		t.Errorf("/health body = %s, want resource check", rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "semian_admin_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	server, err := New(Config{Registry: registry, Gatherer: reg})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "semian_admin_test_total 1") {
		t.Errorf("body missing counter: %s", rec.Body.String())
	}

	noMetrics, err := New(Config{Registry: registry})
	if err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	noMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("without gatherer: Status = %d, want 404", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing generated request ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("%s = %q, want abc-123", RequestIDHeader, got)
	}
}

func TestServe(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.server.Serve(ctx, "127.0.0.1:0", func(a net.Addr) { addrCh <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("Serve() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
