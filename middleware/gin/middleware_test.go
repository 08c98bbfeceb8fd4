package gin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstall/fulfill/trust"
)

const (
	testSeller = "0x1111111111111111111111111111111111111111"
	testPath   = "/fulfill/8453/" + testSeller
)

func validBody() string {
	return `{"orderId":"order-1","paymentReference":"pay-1","buyer":null,` +
		`"items":[{"sku":"game-key","quantity":1}],"trigger":"finalized"}`
}

func newTestRouter(auth trust.Authorizer, opts ...Option) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var capturedCaller string
	router.POST("/fulfill/:chainId/:seller",
		RequireCaller(auth, "fulfill", opts...),
		func(c *gin.Context) {
			capturedCaller = c.GetString(CallerIDKey)
			c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		})
	return router, &capturedCaller
}

func perform(router *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-Service-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireCaller_AllowsValidKey(t *testing.T) {
	store := trust.NewMemoryCallerStore()
	store.Register(trust.TrustedCaller{
		ID:      "erp-connector",
		KeyHash: trust.HashKey("good-key"),
		Scopes:  []string{"fulfill"},
		Enabled: true,
	})
	router, caller := newTestRouter(trust.NewRegistry(store, nil))

	rec := perform(router, testPath, "good-key", validBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "erp-connector", *caller)
}

func TestRequireCaller_MissingKeyIs401(t *testing.T) {
	router, _ := newTestRouter(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(router, testPath, "", validBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), trust.ReasonMissingKey)
}

func TestRequireCaller_ScopeDenialIs403(t *testing.T) {
	store := trust.NewMemoryCallerStore()
	store.Register(trust.TrustedCaller{
		ID:      "inventory-bot",
		KeyHash: trust.HashKey("inv-key"),
		Scopes:  []string{"inventory"},
		Enabled: true,
	})
	router, _ := newTestRouter(trust.NewRegistry(store, nil))

	rec := perform(router, testPath, "inv-key", validBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), trust.ReasonInsufficientScope)
}

func TestRequireCaller_BadRouteParams(t *testing.T) {
	router, _ := newTestRouter(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(router, "/fulfill/abc/"+testSeller, "super-secret-key!", validBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = perform(router, "/fulfill/8453/not-an-address", "super-secret-key!", validBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Right shape, wrong alphabet: 0x + 40 non-hex chars is not an address.
	rec = perform(router, "/fulfill/8453/0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "super-secret-key!", validBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireCaller_SchemaValidation(t *testing.T) {
	router, _ := newTestRouter(trust.NewSharedSecret("super-secret-key!", nil))

	rec := perform(router, testPath, "super-secret-key!", `{"orderId":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid fulfillment request")

	// Trigger outside the enum is rejected by schema, not by the handler.
	bad := strings.Replace(validBody(), "finalized", "someday", 1)
	rec = perform(router, testPath, "super-secret-key!", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireCaller_BodyValidationOptOut(t *testing.T) {
	router, _ := newTestRouter(trust.NewSharedSecret("super-secret-key!", nil), WithoutBodyValidation())

	rec := perform(router, testPath, "super-secret-key!", `{"orderId":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireCaller_CustomHeaderName(t *testing.T) {
	router, _ := newTestRouter(trust.NewSharedSecret("super-secret-key!", nil), WithHeaderName("X-Adapter-Token"))

	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(validBody()))
	req.Header.Set("X-Adapter-Token", "super-secret-key!")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
