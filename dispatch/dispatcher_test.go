package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fulfill "github.com/openstall/fulfill"
)

const testSeller = "0x1111111111111111111111111111111111111111"

func testRequest() *fulfill.FulfillmentRequest {
	return &fulfill.FulfillmentRequest{
		OrderID:          "order-1",
		PaymentReference: "pay-1",
		Items:            []fulfill.LineItem{{SKU: "sku-1", Quantity: 2}},
		Trigger:          fulfill.TriggerFinalized,
	}
}

// scriptedTransport serves canned responses per request and records what was
// sent, so redirect chains can be exercised without real dials.
type scriptedTransport struct {
	mu       sync.Mutex
	handler  func(call int, req *http.Request) *http.Response
	requests []*http.Request
	bodies   []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := ""
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	s.requests = append(s.requests, req)
	s.bodies = append(s.bodies, body)
	return s.handler(len(s.requests)-1, req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func redirectResponse(status int, location string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Location": []string{location}},
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

// fakeResolver answers from a fixed host map.
type fakeResolver struct {
	ips map[string]string
}

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ip, ok := f.ips[host]
	if !ok {
		return nil, fmt.Errorf("no such host %s", host)
	}
	return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
}

func newTestDispatcher(t *testing.T, transport *scriptedTransport, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.HTTPClient == nil && transport != nil {
		cfg.HTTPClient = &http.Client{Transport: transport}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = fakeResolver{ips: map[string]string{
			"adapter.example":  "93.184.216.34",
			"adapter2.example": "93.184.216.35",
			"internal.example": "10.1.2.3",
		}}
	}
	return New(cfg)
}

func TestDispatch_RejectsNonAbsoluteEndpoint(t *testing.T) {
	d := newTestDispatcher(t, nil, Config{})

	for _, endpoint := range []string{"", "/fulfill/1/" + testSeller, "ftp://adapter.example/x", "adapter.example/fulfill"} {
		_, err := d.Dispatch(context.Background(), endpoint, testRequest())
		assert.Equal(t, fulfill.ErrCodeValidationFailed, fulfill.ErrorCode(err), "endpoint %q", endpoint)
	}
}

func TestDispatch_RejectsInvalidRequest(t *testing.T) {
	d := newTestDispatcher(t, nil, Config{})

	req := testRequest()
	req.Items = nil
	_, err := d.Dispatch(context.Background(), "http://adapter.example/fulfill/1/"+testSeller, req)
	assert.Equal(t, fulfill.ErrCodeValidationFailed, fulfill.ErrorCode(err))
}

func TestDispatch_BlocksLoopbackWithoutCredential(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		t.Fatal("guarded dispatch must not reach the transport")
		return nil
	}}
	d := newTestDispatcher(t, transport, Config{})

	_, err := d.Dispatch(context.Background(),
		"http://127.0.0.1:9999/fulfill/100/"+testSeller, testRequest())
	require.Error(t, err)
	assert.True(t, fulfill.IsBlockedTarget(err))

	var de *fulfill.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 502, de.StatusCode)
}

func TestDispatch_BlocksPrivateResolution(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		t.Fatal("guarded dispatch must not reach the transport")
		return nil
	}}
	d := newTestDispatcher(t, transport, Config{})

	_, err := d.Dispatch(context.Background(),
		"http://internal.example/fulfill/100/"+testSeller, testRequest())
	assert.True(t, fulfill.IsBlockedTarget(err))
}

func TestDispatch_CredentialBypassesGuardAndCarriesHeader(t *testing.T) {
	transport := &scriptedTransport{handler: func(_ int, req *http.Request) *http.Response {
		return jsonResponse(200, `{"status":"accepted"}`)
	}}

	creds := NewMemoryCredentialStore()
	creds.Add(OutboundCredential{
		Origin:      "http://127.0.0.1:9999",
		PathPrefix:  "/",
		ServiceKind: fulfill.ServiceKindFulfillment,
		HeaderName:  "X-Service-Key",
		APIKey:      "sekrit",
		Enabled:     true,
	})
	d := newTestDispatcher(t, transport, Config{Credentials: creds})

	payload, err := d.Dispatch(context.Background(),
		"http://127.0.0.1:9999/fulfill/100/"+testSeller, testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"accepted"}`, string(payload))

	require.Len(t, transport.requests, 1)
	sent := transport.requests[0]
	assert.Equal(t, "sekrit", sent.Header.Get("X-Service-Key"))
	assert.Equal(t, "application/json", sent.Header.Get("Content-Type"))
	assert.Contains(t, transport.bodies[0], `"paymentReference":"pay-1"`)
}

func TestDispatch_DisabledCredentialFallsBackToGuard(t *testing.T) {
	creds := NewMemoryCredentialStore()
	creds.Add(OutboundCredential{
		Origin:      "http://127.0.0.1:9999",
		ServiceKind: fulfill.ServiceKindFulfillment,
		HeaderName:  "X-Service-Key",
		APIKey:      "sekrit",
		Enabled:     false,
	})
	d := newTestDispatcher(t, &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		t.Fatal("must not send")
		return nil
	}}, Config{Credentials: creds})

	_, err := d.Dispatch(context.Background(),
		"http://127.0.0.1:9999/fulfill/100/"+testSeller, testRequest())
	assert.True(t, fulfill.IsBlockedTarget(err))
}

func TestDispatch_TrustedDoesNotFollowRedirects(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		return redirectResponse(302, "http://10.0.0.1/steal")
	}}
	creds := NewMemoryCredentialStore()
	creds.Add(OutboundCredential{
		Origin:      "http://adapter.example",
		ServiceKind: fulfill.ServiceKindFulfillment,
		HeaderName:  "X-Service-Key",
		APIKey:      "sekrit",
		Enabled:     true,
	})
	d := newTestDispatcher(t, transport, Config{Credentials: creds})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	assert.Equal(t, fulfill.ErrCodeUpstreamStatus, fulfill.ErrorCode(err))
	assert.Len(t, transport.requests, 1)
}

func TestDispatch_FollowsPublicRedirects(t *testing.T) {
	transport := &scriptedTransport{handler: func(call int, req *http.Request) *http.Response {
		if call == 0 {
			return redirectResponse(307, "http://adapter2.example/fulfill/100/"+testSeller)
		}
		return jsonResponse(200, `{"ok":true}`)
	}}
	d := newTestDispatcher(t, transport, Config{})

	payload, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	require.Len(t, transport.requests, 2)
	assert.Equal(t, "adapter.example", transport.requests[0].URL.Host)
	assert.Equal(t, "adapter2.example", transport.requests[1].URL.Host)
	// Each hop rebuilds the request: method, body, and hop counter.
	assert.Equal(t, http.MethodPost, transport.requests[1].Method)
	assert.Equal(t, transport.bodies[0], transport.bodies[1])
	assert.Equal(t, "0", transport.requests[0].Header.Get(HopCountHeader))
	assert.Equal(t, "1", transport.requests[1].Header.Get(HopCountHeader))
}

func TestDispatch_RedirectToPrivateHostIsBlocked(t *testing.T) {
	transport := &scriptedTransport{handler: func(call int, req *http.Request) *http.Response {
		if call == 0 {
			return redirectResponse(302, "http://internal.example/fulfill/100/"+testSeller)
		}
		t.Fatal("redirect target must be blocked before sending")
		return nil
	}}
	d := newTestDispatcher(t, transport, Config{})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	assert.True(t, fulfill.IsBlockedTarget(err))
	assert.Len(t, transport.requests, 1)
}

func TestDispatch_RedirectLimit(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		return redirectResponse(302, "http://adapter.example/again")
	}}
	d := newTestDispatcher(t, transport, Config{MaxRedirects: 2})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	require.Error(t, err)
	assert.Equal(t, fulfill.ErrCodeTransportFailed, fulfill.ErrorCode(err))
	assert.Contains(t, err.Error(), "redirects")
	// Initial request plus MaxRedirects follow-ups.
	assert.Len(t, transport.requests, 3)
}

func TestDispatch_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		return jsonResponse(500, `{"error":"pool exhausted"}`)
	}}
	d := newTestDispatcher(t, transport, Config{})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	require.Error(t, err)

	var de *fulfill.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, fulfill.ErrCodeUpstreamStatus, de.Code)
	assert.Equal(t, 500, de.StatusCode)
	assert.Contains(t, de.Detail, "pool exhausted")
}

func TestDispatch_PayloadTooLargeIsDistinct(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		return jsonResponse(200, `{"data":"`+strings.Repeat("x", 100)+`"}`)
	}}
	d := newTestDispatcher(t, transport, Config{MaxResponseBytes: 32})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	require.Error(t, err)
	assert.True(t, fulfill.IsPayloadTooLarge(err))
	assert.False(t, fulfill.IsBlockedTarget(err))
}

func TestDispatch_InvalidUpstreamJSON(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, *http.Request) *http.Response {
		return jsonResponse(200, "<html>not json</html>")
	}}
	d := newTestDispatcher(t, transport, Config{})

	_, err := d.Dispatch(context.Background(),
		"http://adapter.example/fulfill/100/"+testSeller, testRequest())
	assert.Equal(t, fulfill.ErrCodeTransportFailed, fulfill.ErrorCode(err))
}
