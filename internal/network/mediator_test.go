package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string]string

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ip, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
}

// harness routes every vetted dial to a local test server.
type harness struct {
	server *httptest.Server

	mu     sync.Mutex
	dialed []string
}

func newHarness(t *testing.T, handler http.Handler) *harness {
	t.Helper()
	h := &harness{server: httptest.NewServer(handler)}
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	h.mu.Lock()
	h.dialed = append(h.dialed, addr)
	h.mu.Unlock()
	return (&net.Dialer{}).DialContext(ctx, network, h.server.Listener.Addr().String())
}

func (h *harness) dials() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dialed...)
}

func (h *harness) mediator(cfg Config, domains []string, opts Options) *Mediator {
	if opts.Resolver == nil {
		opts.Resolver = staticResolver{
			"api.example.com":    "93.184.216.34",
			"rebind.example.com": "10.0.0.5",
		}
	}
	opts.Dial = h.dial
	return New(cfg, domains, opts)
}

func TestFetchDisabledWithoutAllowlist(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	m := h.mediator(DefaultConfig(), nil, Options{})

	resp := m.Fetch(context.Background(), "https://api.example.com/data", "GET")

	assert.False(t, resp.OK)
	assert.Equal(t, 0, resp.Status)
	assert.Contains(t, resp.Error, "network access is disabled")
	assert.Empty(t, h.dials())
}

func TestFetchJSON(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api.example.com", r.Host)
		assert.Equal(t, "scriptbox-fetch/1.0", r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":1,"name":"widget"}`)
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})
	defer m.Close()

	resp := m.Fetch(context.Background(), "http://api.example.com/items/1", "")

	require.Empty(t, resp.Error)
	assert.True(t, resp.OK)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "OK", resp.StatusText)
	assert.Equal(t, `{"id":1,"name":"widget"}`, resp.Text)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, "application/json", resp.Headers["content-type"])
	assert.Equal(t, "http://api.example.com/items/1", resp.URL)
	assert.Equal(t, []string{"93.184.216.34:80"}, h.dials())
}

func TestFetchNon2xxIsNotAnError(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	m := h.mediator(DefaultConfig(), []string{"api.example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/missing", "GET")

	assert.False(t, resp.OK)
	assert.Equal(t, 404, resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "gone\n", resp.Text)
}

func TestFetchDeniedDomainNeverDials(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "https://blocked.test/x", "GET")

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "not allowed")
	assert.Empty(t, h.dials())
}

func TestFetchRejectsRebindingAtDialTime(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://rebind.example.com/", "GET")

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "private IP")
	assert.Contains(t, resp.Error, "10.0.0.5")
	assert.Empty(t, h.dials())
}

func TestFetchRejectsRedirectOutsideAllowlist(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://evil.test/steal", http.StatusFound)
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/start", "GET")

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "not allowed")
	assert.Len(t, h.dials(), 1)
}

func TestFetchFollowsAllowedRedirect(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		fmt.Fprint(w, "moved here")
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/old", "GET")

	assert.True(t, resp.OK)
	assert.Equal(t, "moved here", resp.Text)
	assert.Equal(t, "http://api.example.com/new", resp.URL)
}

func TestFetchMethodRestriction(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/", "POST")

	assert.Contains(t, resp.Error, "only GET")
	assert.Empty(t, h.dials())
}

func TestFetchRequestLimit(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	cfg := DefaultConfig()
	cfg.MaxRequests = 1
	m := h.mediator(cfg, []string{"example.com"}, Options{})

	first := m.Fetch(context.Background(), "http://api.example.com/", "GET")
	second := m.Fetch(context.Background(), "http://api.example.com/", "GET")

	assert.True(t, first.OK)
	assert.False(t, second.OK)
	assert.Contains(t, second.Error, "fetch limit exceeded")
	assert.Equal(t, int64(2), m.Requests())
}

func TestFetchResponseSizeLimit(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	cfg := DefaultConfig()
	cfg.MaxResponseBytes = 10
	m := h.mediator(cfg, []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/big", "GET")

	assert.False(t, resp.OK)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, resp.Error, "exceeds the 10 byte limit")
	assert.Empty(t, resp.Text)
}

type refusingBudget struct{}

func (refusingBudget) Reserve(int64) error { return errors.New("Memory limit exceeded") }

func TestFetchChargesBudget(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{Budget: refusingBudget{}})

	resp := m.Fetch(context.Background(), "http://api.example.com/", "GET")

	assert.False(t, resp.OK)
	assert.Equal(t, "Memory limit exceeded", resp.Error)
}

func TestFetchBreakerOpensPerHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerThreshold = 2
	m := New(cfg, []string{"example.com"}, Options{
		Resolver: staticResolver{"api.example.com": "93.184.216.34", "cdn.example.com": "93.184.216.35"},
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	})

	for i := 0; i < 2; i++ {
		resp := m.Fetch(context.Background(), "http://api.example.com/", "GET")
		assert.Contains(t, resp.Error, "connection refused")
	}

	resp := m.Fetch(context.Background(), "http://api.example.com/", "GET")
	assert.Contains(t, resp.Error, "circuit breaker open")

	resp = m.Fetch(context.Background(), "http://cdn.example.com/", "GET")
	assert.Contains(t, resp.Error, "connection refused")
}

func TestFetchCancelledContext(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "late")
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := m.Fetch(ctx, "http://api.example.com/", "GET")

	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestFetchReportsDecisions(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	var kinds []DecisionKind
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{
		OnDecision: func(d Decision) { kinds = append(kinds, d.Kind) },
	})

	m.Fetch(context.Background(), "http://api.example.com/", "GET")
	m.Fetch(context.Background(), "http://other.test/", "GET")

	assert.Equal(t, []DecisionKind{KindAllowed, KindDomain}, kinds)
}

func TestFetchDecodesDeclaredCharset(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte("caf\xe9"))
	}))
	m := h.mediator(DefaultConfig(), []string{"example.com"}, Options{})

	resp := m.Fetch(context.Background(), "http://api.example.com/", "GET")

	assert.Equal(t, "café", resp.Text)
	assert.Equal(t, "text/plain", resp.ContentType)
}
