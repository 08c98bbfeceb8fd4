// Package dispatch builds and sends fulfillment requests to upstream
// adapters. Destinations with a configured outbound credential are trusted
// and called directly with the credential header attached; everything else
// goes through the private-address guard, with redirects followed manually
// and re-audited at every hop.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/metrics"
)

// HopCountHeader carries the redirect hop index on guarded requests, so
// adapters and proxies can observe how a request arrived.
const HopCountHeader = "X-Dispatch-Hops"

const (
	// DefaultTimeout bounds one dispatch end to end, redirects included.
	DefaultTimeout = 1500 * time.Millisecond
	// DefaultMaxRedirects bounds the manual redirect chain.
	DefaultMaxRedirects = 3
	// DefaultMaxResponseBytes caps how much of the adapter response is read.
	DefaultMaxResponseBytes = 2 << 20
)

// errorBodyLimit truncates upstream error bodies embedded in errors.
const errorBodyLimit = 512

// Config configures a Dispatcher. The zero value gets working defaults; the
// struct is copied at construction and never mutated afterwards.
type Config struct {
	// Credentials is the outbound credential table (optional). Without it
	// every destination is treated as untrusted.
	Credentials CredentialStore

	// HTTPClient is the client used for requests (optional). Its
	// CheckRedirect is overridden: the dispatcher never auto-follows.
	HTTPClient *http.Client

	// Resolver resolves hostnames for the private-address guard
	// (optional, defaults to net.DefaultResolver).
	Resolver Resolver

	// Timeout for one dispatch, composed with the caller's context.
	Timeout time.Duration

	// MaxRedirects for untrusted destinations.
	MaxRedirects int

	// MaxResponseBytes caps the adapter response body.
	MaxResponseBytes int64

	// Logger for dispatch decisions (optional).
	Logger *zap.Logger
}

// Dispatcher sends fulfillment requests to adapter endpoints.
type Dispatcher struct {
	credentials      CredentialStore
	client           *http.Client
	resolver         Resolver
	timeout          time.Duration
	maxRedirects     int
	maxResponseBytes int64
	logger           *zap.Logger
}

// New creates a dispatcher from config.
func New(cfg Config) *Dispatcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	} else {
		cp := *client
		client = &cp
	}
	// Redirects are handled manually so each hop can be re-audited.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		credentials:      cfg.Credentials,
		client:           client,
		resolver:         resolver,
		timeout:          timeout,
		maxRedirects:     maxRedirects,
		maxResponseBytes: maxBytes,
		logger:           logger,
	}
}

// Dispatch POSTs the request to endpoint and returns the adapter's JSON
// response opaquely; the dispatcher does not interpret its shape.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, request *fulfill.FulfillmentRequest) (json.RawMessage, error) {
	start := time.Now()
	payload, err := d.dispatch(ctx, endpoint, request)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	metrics.DispatchesTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return payload, err
}

func (d *Dispatcher) dispatch(ctx context.Context, endpoint string, request *fulfill.FulfillmentRequest) (json.RawMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fulfill.NewDispatchError(fulfill.ErrCodeValidationFailed,
			fmt.Sprintf("endpoint %q is not an absolute http/https URI", endpoint))
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fulfillment request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cred, err := d.lookupCredential(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	var resp *http.Response
	if cred != nil {
		resp, err = d.sendTrusted(ctx, u, body, cred)
	} else {
		resp, err = d.sendGuarded(ctx, u, body)
	}
	if err != nil {
		return nil, err
	}
	return d.readResponse(resp)
}

func (d *Dispatcher) lookupCredential(ctx context.Context, u *url.URL) (*OutboundCredential, error) {
	target, ok := ParseTarget(u)
	if !ok || d.credentials == nil {
		return nil, nil
	}
	return d.credentials.Lookup(ctx, CredentialQuery{
		Origin:      u.Scheme + "://" + u.Host,
		Path:        u.Path,
		ServiceKind: fulfill.ServiceKindFulfillment,
		Seller:      target.Seller.Hex(),
		ChainID:     target.ChainID,
	})
}

// sendTrusted sends a single request to a pre-authorized destination with
// the credential header attached. No redirect-following, no address
// restriction: the operator explicitly configured this origin.
func (d *Dispatcher) sendTrusted(ctx context.Context, u *url.URL, body []byte, cred *OutboundCredential) (*http.Response, error) {
	req, err := d.buildRequest(ctx, u, body, 0)
	if err != nil {
		return nil, err
	}
	req.Header.Set(cred.HeaderName, cred.APIKey)

	d.logger.Debug("dispatching to trusted destination", zap.String("origin", cred.Origin))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// sendGuarded sends to an untrusted destination, re-validating the
// private-address guard at every redirect hop and rebuilding the request
// for each target. Automatic redirect-following is never used: the client
// would re-dial without re-auditing.
func (d *Dispatcher) sendGuarded(ctx context.Context, u *url.URL, body []byte) (*http.Response, error) {
	current := u
	for hop := 0; hop <= d.maxRedirects; hop++ {
		if err := checkPublicHost(ctx, d.resolver, current.Hostname()); err != nil {
			metrics.BlockedTargetsTotal.Inc()
			d.logger.Warn("blocked private dispatch target",
				zap.String("host", current.Hostname()), zap.Int("hop", hop))
			return nil, err
		}

		req, err := d.buildRequest(ctx, current, body, hop)
		if err != nil {
			return nil, err
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, transportError(err)
		}

		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}

		location := resp.Header.Get("Location")
		io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()

		next, err := current.Parse(location)
		if err != nil || next.Host == "" || (next.Scheme != "http" && next.Scheme != "https") {
			return nil, fulfill.NewDispatchError(fulfill.ErrCodeTransportFailed,
				fmt.Sprintf("redirect to unusable location %q", location))
		}
		d.logger.Debug("following redirect",
			zap.String("from", current.String()), zap.String("to", next.String()), zap.Int("hop", hop+1))
		current = next
	}

	return nil, fulfill.NewDispatchError(fulfill.ErrCodeTransportFailed,
		fmt.Sprintf("stopped after %d redirects", d.maxRedirects))
}

func (d *Dispatcher) buildRequest(ctx context.Context, u *url.URL, body []byte, hop int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HopCountHeader, strconv.Itoa(hop))
	return req, nil
}

// readResponse enforces the response byte cap and the 2xx contract, then
// returns the body as opaque JSON.
func (d *Dispatcher) readResponse(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes+1))
	if err != nil {
		return nil, transportError(err)
	}
	if int64(len(data)) > d.maxResponseBytes {
		return nil, &fulfill.DispatchError{
			Code:       fulfill.ErrCodePayloadTooLarge,
			Message:    fmt.Sprintf("adapter response exceeds %d bytes", d.maxResponseBytes),
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fulfill.DispatchError{
			Code:       fulfill.ErrCodeUpstreamStatus,
			Message:    fmt.Sprintf("adapter returned %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     truncate(data, errorBodyLimit),
		}
	}

	if !json.Valid(data) {
		return nil, fulfill.NewDispatchError(fulfill.ErrCodeTransportFailed,
			"adapter response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// transportError maps low-level send failures, distinguishing timeouts so
// the caller can tell a slow adapter from an unreachable one.
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &fulfill.DispatchError{
			Code:    fulfill.ErrCodeTimeout,
			Message: "dispatch timed out",
			Detail:  err.Error(),
		}
	}
	return &fulfill.DispatchError{
		Code:    fulfill.ErrCodeTransportFailed,
		Message: "dispatch request failed",
		Detail:  err.Error(),
	}
}

func truncate(data []byte, limit int) string {
	if len(data) > limit {
		return string(data[:limit])
	}
	return string(data)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := fulfill.ErrorCode(err); code != "" {
		return code
	}
	return fulfill.ErrCodeTransportFailed
}
