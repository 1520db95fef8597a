package httpguard

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/shm"
)

var errTLS = errors.New("tls: handshake failure")

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// countingTransport returns err for every request and counts calls.
type countingTransport struct {
	calls atomic.Int32
	err   error
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, c.err
}

func testOptions() resilience.Options {
	return resilience.Options{
		Tickets:          2,
		ErrorThreshold:   2,
		SuccessThreshold: 1,
		ErrorTimeout:     time.Minute,
	}
}

func newAdapter(t *testing.T, resolver resilience.Resolver, cfg Config) *Adapter {
	t.Helper()
	reg := resilience.NewRegistry(resilience.RegistryConfig{Store: shm.NewMemoryStore()})
	t.Cleanup(func() { _ = reg.Close() })
	cfg.Guard = resilience.NewGuard(reg, resolver)
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	return resp, err
}

func TestNew_RequiresGuard(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingGuard)
}

func TestTransport_TripsOnNetworkErrors(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	base := &countingTransport{err: io.EOF}
	client := a.Client(base)

	for range 2 {
		_, err := get(t, client, "http://upstream.test:8080/")
		require.Error(t, err)
		assert.False(t, resilience.IsRejection(err))
	}

	_, err := get(t, client, "http://upstream.test:8080/")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), base.calls.Load(), "open circuit must not reach the transport")

	status, err := a.Guard().Registry().Status("http_upstream_test_8080")
	require.NoError(t, err)
	assert.Equal(t, resilience.StateOpen, status.State)
}

func TestTransport_IgnoresUntrackedErrors(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	base := &countingTransport{err: errTLS}
	client := a.Client(base)

	for range 5 {
		_, err := get(t, client, "https://secure.test/")
		require.Error(t, err)
		assert.False(t, resilience.IsRejection(err))
	}
	assert.Equal(t, int32(5), base.calls.Load())
}

func TestAdapter_AddErrors(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	before := a.Errors().Len()
	a.AddErrors(resilience.Is(errTLS))
	assert.Equal(t, before+1, a.Errors().Len())

	client := a.Client(&countingTransport{err: errTLS})
	for range 2 {
		_, _ = get(t, client, "https://secure.test/")
	}
	_, err := get(t, client, "https://secure.test/")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestAdapter_OptionsTrackedErrorsOverride(t *testing.T) {
	opts := testOptions()
	opts.TrackedErrors = resilience.NewErrorSet(resilience.Is(errTLS))
	a := newAdapter(t, resilience.Static(opts), Config{})

	// io.EOF is in the adapter set but not in the resolved set.
	eof := a.Client(&countingTransport{err: io.EOF})
	for range 3 {
		_, err := get(t, eof, "http://a.test/")
		assert.False(t, resilience.IsRejection(err))
	}

	tls := a.Client(&countingTransport{err: errTLS})
	for range 2 {
		_, _ = get(t, tls, "http://b.test/")
	}
	_, err := get(t, tls, "http://b.test/")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestTransport_DistinctEndpointsTrackedSeparately(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	var failing atomic.Bool
	failing.Store(true)
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Hostname() == "localhost" && failing.Load() {
			return nil, io.EOF
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})
	client := a.Client(base)

	for range 2 {
		_, _ = get(t, client, "http://localhost:31050/")
	}
	_, err := get(t, client, "http://localhost:31050/")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)

	resp, err := get(t, client, "http://127.0.0.1:31050/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = get(t, client, "http://localhost:31051/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransport_ServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Run("untracked", func(t *testing.T) {
		a := newAdapter(t, resilience.Static(testOptions()), Config{})
		client := a.Client(nil)
		for range 4 {
			resp, err := get(t, client, srv.URL)
			require.NoError(t, err)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		}
	})

	t.Run("tracked", func(t *testing.T) {
		hits.Store(0)
		a := newAdapter(t, resilience.Static(testOptions()), Config{TrackServerErrors: true})
		client := a.Client(nil)
		for range 2 {
			resp, err := get(t, client, srv.URL)
			require.NoError(t, err, "5xx responses are returned, not converted to errors")
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		}
		_, err := get(t, client, srv.URL)
		assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
		assert.Equal(t, int32(2), hits.Load())
	})
}

func TestTransport_Busy(t *testing.T) {
	opts := testOptions()
	opts.Tickets = 1
	a := newAdapter(t, resilience.Static(opts), Config{})

	entered := make(chan struct{})
	release := make(chan struct{})
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		close(entered)
		<-release
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})
	client := a.Client(base)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = get(t, client, "http://slow.test/")
	}()
	<-entered

	_, err := get(t, client, "http://slow.test/")
	assert.ErrorIs(t, err, resilience.ErrResourceBusy)

	close(release)
	wg.Wait()
}

func TestTransport_HoldsTicketUntilBodyClosed(t *testing.T) {
	opts := testOptions()
	opts.Tickets = 1
	a := newAdapter(t, resilience.Static(opts), Config{})
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok")), Request: req}, nil
	})
	client := a.Client(base)

	req, err := http.NewRequest(http.MethodGet, "http://stream.test/", nil)
	require.NoError(t, err)
	open, err := client.Do(req)
	require.NoError(t, err)

	_, err = get(t, client, "http://stream.test/")
	assert.ErrorIs(t, err, resilience.ErrResourceBusy, "an unread body still holds its ticket")

	require.NoError(t, open.Body.Close())
	require.NoError(t, open.Body.Close())
	_, err = get(t, client, "http://stream.test/")
	assert.NoError(t, err)

	status, err := a.Guard().Registry().Status("http_stream_test_80")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Available)
}

func TestTransport_BodyReadErrorsTrip(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	var calls atomic.Int32
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		body := io.NopCloser(iotest.ErrReader(io.ErrUnexpectedEOF))
		return &http.Response{StatusCode: http.StatusOK, Body: body, Request: req}, nil
	})
	client := a.Client(base)

	for range 2 {
		resp, err := get(t, client, "http://truncated.test/")
		require.NoError(t, err, "the round trip itself succeeds")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, err := get(t, client, "http://truncated.test/")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransport_Disabled(t *testing.T) {
	resolver := NewResolver(map[string]resilience.Options{
		"http_protected_test_80": testOptions(),
	})
	a := newAdapter(t, resolver, Config{})
	base := &countingTransport{err: io.EOF}
	client := a.Client(base)

	assert.False(t, a.Enabled(context.Background(), "open.test", "80"))
	assert.True(t, a.Enabled(context.Background(), "protected.test", "80"))

	for range 5 {
		_, err := get(t, client, "http://open.test/")
		assert.False(t, resilience.IsRejection(err))
	}
	assert.Equal(t, int32(5), base.calls.Load())
}

func TestNewResolver_DefaultFallback(t *testing.T) {
	fallback := testOptions()
	fallback.Tickets = 7
	a := newAdapter(t, NewResolver(map[string]resilience.Options{
		DefaultKey:              fallback,
		"http_special_test_443": testOptions(),
	}), Config{})
	ctx := context.Background()

	got := a.Options(ctx, "anything.test", "80")
	require.NotNil(t, got)
	assert.Equal(t, uint32(7), got.Tickets)

	got = a.Options(ctx, "special.test", "443")
	require.NotNil(t, got)
	assert.Equal(t, uint32(2), got.Tickets)
}

func TestTransport_ContextResolverDisables(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	base := &countingTransport{err: io.EOF}
	client := a.Client(base)
	ctx := resilience.WithResolver(context.Background(), resilience.Disabled())

	for range 4 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://upstream.test/", nil)
		require.NoError(t, err)
		_, err = client.Do(req)
		assert.False(t, resilience.IsRejection(err))
	}
	assert.Equal(t, int32(4), base.calls.Load())
}

func TestDialer_TripsOnRefusedConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	d := a.Dialer(&net.Dialer{Timeout: time.Second})
	ctx := context.Background()

	for range 2 {
		_, err := d.DialContext(ctx, "tcp", addr)
		require.Error(t, err)
		assert.False(t, resilience.IsRejection(err))
	}
	_, err = d.DialContext(ctx, "tcp", addr)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	_, err = d.DialContext(ctx, "tcp", "no-port")
	assert.Error(t, err)
}

func TestDialer_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	transport := &http.Transport{DialContext: a.Dialer(nil).DialContext}
	defer transport.CloseIdleConnections()

	resp, err := get(t, &http.Client{Transport: transport}, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	status, err := a.Guard().Registry().Status(Identifier(host, port))
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, status.State)
	assert.Equal(t, status.Tickets, status.Available)
}

func TestProtectResty(t *testing.T) {
	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	base := &countingTransport{err: io.ErrUnexpectedEOF}
	client := a.ProtectResty(resty.New().SetTransport(base))

	for range 2 {
		_, err := client.R().Get("http://resty.test/health")
		require.Error(t, err)
		assert.False(t, resilience.IsRejection(err))
	}
	_, err := client.R().Get("http://resty.test/health")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), base.calls.Load())
}

func TestProtectResty_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	a := newAdapter(t, resilience.Static(testOptions()), Config{})
	client := a.ProtectResty(resty.New())

	resp, err := client.R().Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.String())
}

func TestTransport_StatePersistsAcrossRegistries(t *testing.T) {
	store, err := shm.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	first := resilience.NewRegistry(resilience.RegistryConfig{Store: store})
	a, err := New(Config{Guard: resilience.NewGuard(first, resilience.Static(testOptions()))})
	require.NoError(t, err)
	client := a.Client(&countingTransport{err: io.EOF})
	for range 2 {
		_, _ = get(t, client, "http://restarted.test/")
	}
	require.NoError(t, first.Close())

	// A fresh registry over the same directory stands in for a restarted
	// process.
	store2, err := shm.NewFileStore(store.Dir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })
	second := resilience.NewRegistry(resilience.RegistryConfig{Store: store2})
	b, err := New(Config{Guard: resilience.NewGuard(second, resilience.Static(testOptions()))})
	require.NoError(t, err)

	base := &countingTransport{}
	_, err = get(t, b.Client(base), "http://restarted.test/")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Zero(t, base.calls.Load())
}
