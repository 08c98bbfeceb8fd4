package echo

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/openstall/fulfill/trust"
)

const (
	testSeller = "0x1111111111111111111111111111111111111111"
	testPath   = "/fulfill/8453/" + testSeller
)

func newTestServer(auth trust.Authorizer, opts ...Option) *echo.Echo {
	e := echo.New()
	e.POST("/fulfill/:chainId/:seller", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
	}, RequireCaller(auth, "fulfill", opts...))
	return e
}

func perform(e *echo.Echo, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-Service-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"orderId":"order-1","paymentReference":"pay-1","buyer":null,` +
	`"items":[{"sku":"game-key","quantity":1}],"trigger":"finalized"}`

func TestRequireCaller_Allow(t *testing.T) {
	e := newTestServer(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(e, "super-secret-key!", validBody)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequireCaller_Deny(t *testing.T) {
	e := newTestServer(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(e, "wrong", validBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), trust.ReasonInvalidKey)
}

func TestRequireCaller_NonHexSellerRejected(t *testing.T) {
	e := newTestServer(trust.NewSharedSecret("super-secret-key!", nil))

	// Right shape, wrong alphabet: 0x + 40 non-hex chars is not an address.
	path := "/fulfill/8453/0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(validBody))
	req.Header.Set("X-Service-Key", "super-secret-key!")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireCaller_SchemaRejection(t *testing.T) {
	e := newTestServer(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(e, "super-secret-key!", `{"orderId":"only"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
