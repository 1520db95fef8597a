package httpguard

import (
	"context"
	"errors"
	"io"
	"maps"
	"net"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/jonwraymond/semian/resilience"
)

// Config configures an Adapter.
type Config struct {
	// Guard runs the protected calls. Required.
	Guard *resilience.Guard

	// Errors is the tracked error set.
	// Default: DefaultErrors()
	Errors *resilience.ErrorSet

	// TrackServerErrors counts 5xx responses as failures. The response is
	// still returned to the caller.
	TrackServerErrors bool
}

// Adapter applies a guard to HTTP clients.
//
// Contract:
//   - Concurrency: safe for concurrent use, including AddErrors.
//   - Errors: rejections are *resilience.RejectionError; request errors
//     are returned unchanged.
type Adapter struct {
	guard             *resilience.Guard
	trackServerErrors bool

	mu     sync.RWMutex
	errors resilience.ErrorSet
}

// New creates an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Guard == nil {
		return nil, ErrMissingGuard
	}
	set := DefaultErrors()
	if cfg.Errors != nil {
		set = *cfg.Errors
	}
	return &Adapter{
		guard:             cfg.Guard,
		trackServerErrors: cfg.TrackServerErrors,
		errors:            set,
	}, nil
}

// NewResolver resolves identifiers from entries, falling back to the
// DefaultKey entry. Identifiers with neither are unprotected.
func NewResolver(entries map[string]resilience.Options) *resilience.MapResolver {
	return resilience.NewMapResolver(maps.Clone(entries), DefaultKey)
}

// AddErrors extends the tracked set for every identifier using the
// adapter default.
func (a *Adapter) AddErrors(matchers ...resilience.ErrorMatcher) {
	a.mu.Lock()
	a.errors = a.errors.With(matchers...)
	a.mu.Unlock()
}

// Errors returns the current tracked set.
func (a *Adapter) Errors() resilience.ErrorSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errors
}

// Guard returns the adapter's guard.
func (a *Adapter) Guard() *resilience.Guard {
	return a.guard
}

// Enabled reports whether calls to host:port under ctx are protected.
func (a *Adapter) Enabled(ctx context.Context, host, port string) bool {
	return a.guard.Enabled(ctx, Identifier(host, port))
}

// Options returns the options that apply to host:port, or nil.
func (a *Adapter) Options(ctx context.Context, host, port string) *resilience.Options {
	return a.guard.Options(ctx, Identifier(host, port))
}

func (a *Adapter) classifier(ctx context.Context, id string) resilience.Classifier {
	set := a.Errors()
	if o := a.guard.Options(ctx, id); o != nil && o.TrackedErrors.Len() > 0 {
		set = o.TrackedErrors
	}
	return func(err error) resilience.Outcome {
		var se *ServerError
		if errors.As(err, &se) {
			return resilience.OutcomeFailure
		}
		return set.Classify(err)
	}
}

// Transport wraps base so every request runs under its host's resource.
// A nil base uses http.DefaultTransport.
func (a *Adapter) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{adapter: a, base: base}
}

// Client returns an http.Client using a guarded transport over base.
func (a *Adapter) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: a.Transport(base)}
}

// Dialer wraps base so every connection runs under its address's resource.
// A nil base uses a zero net.Dialer.
func (a *Adapter) Dialer(base *net.Dialer) *Dialer {
	if base == nil {
		base = &net.Dialer{}
	}
	return &Dialer{adapter: a, base: base}
}

// ProtectResty installs a guarded transport on c, wrapping its current
// transport, and returns c.
func (a *Adapter) ProtectResty(c *resty.Client) *resty.Client {
	return c.SetTransport(a.Transport(c.GetClient().Transport))
}

// Transport is a guarded http.RoundTripper. A ticket is held from the
// start of the round trip until the response body is closed, so slow body
// reads count against the bulkhead and a failed read counts against the
// circuit. Callers must close every response body.
type Transport struct {
	adapter *Adapter
	base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := URLIdentifier(req.URL)
	ctx, call, err := t.adapter.guard.Begin(req.Context(), id, t.adapter.classifier(req.Context(), id))
	if err != nil {
		return nil, err
	}
	if call == nil {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		call.Finish(err)
		return nil, err
	}

	var result error
	if t.adapter.trackServerErrors && resp.StatusCode >= http.StatusInternalServerError {
		result = &ServerError{Response: resp}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		call.Finish(result)
		return resp, nil
	}
	resp.Body = &guardedBody{ReadCloser: resp.Body, call: call, result: result}
	return resp, nil
}

// guardedBody finishes its call when closed. A read error other than EOF
// becomes the call's result.
type guardedBody struct {
	io.ReadCloser
	call *resilience.Call

	mu     sync.Mutex
	result error
}

func (b *guardedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		if b.result == nil {
			b.result = err
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *guardedBody) Close() error {
	err := b.ReadCloser.Close()
	b.mu.Lock()
	result := b.result
	b.mu.Unlock()
	b.call.Finish(result)
	return err
}

// Dialer is a guarded dialer.
type Dialer struct {
	adapter *Adapter
	base    *net.Dialer
}

// DialContext dials addr under the resource for its host and port.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	id := Identifier(host, port)
	return resilience.Run(ctx, d.adapter.guard, id, func(ctx context.Context) (net.Conn, error) {
		return d.base.DialContext(ctx, network, addr)
	}, d.adapter.classifier(ctx, id))
}

var _ http.RoundTripper = (*Transport)(nil)
