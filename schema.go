package fulfill

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed request_schema.json
var requestSchemaJSON []byte

// ValidateRequestBytes validates a raw inbound request body against the
// fulfillment request JSON schema. Adapters run this before handing the
// payload to their capability implementation, so malformed marketplace
// payloads are rejected at the boundary.
func ValidateRequestBytes(body []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(requestSchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return NewDispatchError(ErrCodeValidationFailed, fmt.Sprintf("request body is not valid JSON: %v", err))
	}
	if result.Valid() {
		return nil
	}

	var descs []string
	for _, desc := range result.Errors() {
		descs = append(descs, desc.String())
	}
	return NewDispatchError(ErrCodeValidationFailed, strings.Join(descs, "; "))
}
