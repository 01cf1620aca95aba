package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config bounds the outbound traffic of one invocation.
type Config struct {
	RequestTimeout   time.Duration
	MaxRequests      int
	MaxResponseBytes int64
	MaxRedirects     int
	RatePerSecond    float64
	BreakerThreshold uint32
	UserAgent        string
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   5 * time.Second,
		MaxRequests:      50,
		MaxResponseBytes: 5 << 20,
		MaxRedirects:     5,
		BreakerThreshold: 3,
		UserAgent:        "scriptbox-fetch/1.0",
	}
}

// Budget is charged before response bodies are handed to the caller.
type Budget interface {
	Reserve(n int64) error
}

// Options injects collaborators. Zero values select the real network.
type Options struct {
	Resolver   Resolver
	Dial       DialFunc
	Budget     Budget
	OnDecision func(Decision)
	Logger     *zap.Logger
}

// Response is what sandboxed code receives from fetch.
type Response struct {
	OK          bool
	Status      int
	StatusText  string
	URL         string
	Headers     map[string]string
	ContentType string
	Text        string
	Error       string
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}

// Mediator performs policy-checked GET requests for one invocation.
type Mediator struct {
	cfg        Config
	policy     Policy
	dialer     *guardedDialer
	limiter    *rate.Limiter
	breakers   *resilience.Group
	budget     Budget
	onDecision func(Decision)
	logger     *zap.Logger

	requests   atomic.Int64
	clientOnce sync.Once
	client     *resty.Client
	transport  *http.Transport
}

// New creates a mediator for the given allowlist.
func New(cfg Config, allowedDomains []string, opts Options) *Mediator {
	defaults := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = defaults.BreakerThreshold
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	limit := rate.Inf
	burst := 0
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Mediator{
		cfg:        cfg,
		policy:     NewPolicy(allowedDomains),
		dialer:     newGuardedDialer(opts.Resolver, opts.Dial, cfg.RequestTimeout),
		limiter:    rate.NewLimiter(limit, burst),
		breakers:   resilience.NewGroup(resilience.Settings{Cooldown: time.Hour, ReadyToTrip: resilience.ConsecutiveFailures(cfg.BreakerThreshold)}),
		budget:     opts.Budget,
		onDecision: opts.OnDecision,
		logger:     logger,
	}
}

// Requests returns how many attempts passed the static policy checks.
func (m *Mediator) Requests() int64 { return m.requests.Load() }

// Fetch performs one mediated request. It never returns an error; every
// failure is described in Response.Error.
func (m *Mediator) Fetch(ctx context.Context, rawURL, method string) Response {
	target, decision := m.policy.Evaluate(method, rawURL)
	if decision.Allowed() {
		if n := m.requests.Add(1); m.cfg.MaxRequests > 0 && n > int64(m.cfg.MaxRequests) {
			decision = decision.denied(deny(KindLimit, ErrFetchLimit, "at most %d requests per invocation", m.cfg.MaxRequests))
		}
	}
	if decision.Allowed() && m.breakers.Get(decision.Host).State() == resilience.StateOpen {
		decision = decision.denied(deny(KindBreaker, ErrCircuitOpen, "too many consecutive failures for %s", decision.Host))
	}
	m.report(decision)

	if !decision.Allowed() {
		m.logger.Debug("Fetch denied",
			zap.String("host", decision.Host),
			zap.String("kind", string(decision.Kind)))
		return failure(decision.Err)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return failure(describe(err, m.cfg.RequestTimeout))
	}

	resp, err := resilience.Do(m.breakers.Get(decision.Host), func() (Response, error) {
		return m.do(ctx, target)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			err = deny(KindBreaker, ErrCircuitOpen, "too many consecutive failures for %s", decision.Host)
		}
		m.logger.Debug("Fetch failed", zap.String("host", decision.Host), zap.Error(err))
		return failure(describe(err, m.cfg.RequestTimeout))
	}
	return resp
}

// Close releases idle connections.
func (m *Mediator) Close() {
	if m.transport != nil {
		m.transport.CloseIdleConnections()
	}
}

// do returns an error only for transport faults, which count against the
// host's breaker. HTTP statuses and body problems are part of the Response.
func (m *Mediator) do(ctx context.Context, target *url.URL) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	resp, err := m.httpClient().R().
		SetContext(reqCtx).
		SetDoNotParseResponse(true).
		Get(target.String())
	if err != nil {
		return Response{}, err
	}

	body := resp.RawBody()
	defer body.Close()

	out := Response{
		OK:         resp.StatusCode() >= 200 && resp.StatusCode() < 300,
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		URL:        target.String(),
		Headers:    flattenHeaders(resp.Header()),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		out.URL = raw.Request.URL.String()
	}

	limit := m.cfg.MaxResponseBytes
	if cl := resp.RawResponse.ContentLength; cl > limit {
		out.OK = false
		out.Error = fmt.Sprintf("response body of %d bytes exceeds the %d byte limit", cl, limit)
		return out, nil
	} else if cl > 0 {
		if err := m.reserve(cl); err != nil {
			out.OK = false
			out.Error = err.Error()
			return out, nil
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		out.OK = false
		out.Error = fmt.Sprintf("response body exceeds the %d byte limit", limit)
		return out, nil
	}
	if resp.RawResponse.ContentLength <= 0 {
		if err := m.reserve(int64(len(data))); err != nil {
			out.OK = false
			out.Error = err.Error()
			return out, nil
		}
	}

	out.Text, out.ContentType = decodeBody(data, resp.Header().Get("Content-Type"))
	return out, nil
}

func (m *Mediator) reserve(n int64) error {
	if m.budget == nil {
		return nil
	}
	return m.budget.Reserve(n)
}

func (m *Mediator) httpClient() *resty.Client {
	m.clientOnce.Do(func() {
		m.transport = &http.Transport{
			Proxy:                 nil,
			DialContext:           m.dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          4,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   m.cfg.RequestTimeout,
			ResponseHeaderTimeout: m.cfg.RequestTimeout,
		}
		m.client = resty.New().
			SetTransport(m.transport).
			SetTimeout(m.cfg.RequestTimeout).
			SetRetryCount(0).
			SetHeader("User-Agent", m.cfg.UserAgent).
			SetRedirectPolicy(resty.RedirectPolicyFunc(m.checkRedirect))
	})
	return m.client
}

func (m *Mediator) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > m.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", m.cfg.MaxRedirects)
	}
	_, decision := m.policy.Evaluate(http.MethodGet, req.URL.String())
	m.report(decision)
	if !decision.Allowed() {
		return decision.Err
	}
	return nil
}

func (m *Mediator) report(d Decision) {
	if m.onDecision != nil {
		m.onDecision(d)
	}
}

func describe(err error, timeout time.Duration) error {
	var policyErr *PolicyError
	switch {
	case errors.As(err, &policyErr):
		return policyErr
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("request timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return errors.New("request cancelled")
	}
	return err
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}
