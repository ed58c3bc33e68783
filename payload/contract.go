package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pithecene-io/loupe/types"
)

// uploadSchema is the JSON contract of the extract-image-info request body.
const uploadSchema = `{
  "type": "object",
  "required": ["id", "prompt", "blob"],
  "additionalProperties": false,
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"
    },
    "prompt": {
      "type": "string",
      "minLength": 1
    },
    "blob": {
      "type": "string",
      "minLength": 16,
      "pattern": "^data:[A-Za-z0-9.+-]+/[A-Za-z0-9.+-]+;base64,[A-Za-z0-9+/]+=*$"
    },
    "stream": {
      "type": "boolean"
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(uploadSchema))
	})
	return compiledSchema, schemaErr
}

// ValidateContract checks the serialized request against the upload schema.
// Every violation is listed in the returned ErrValidation message.
// The blob must also carry bytes under the request's declared MIME type
// and decode cleanly.
func ValidateContract(req *types.UploadRequest) error {
	if !req.HasPayload() {
		return types.NewValidationError("contract",
			fmt.Sprintf("blob has no payload under %q", types.DataURIPrefix(req.MimeType)))
	}

	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("payload: compile upload schema: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("payload: marshal request: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("payload: validate request: %w", err)
	}
	if result.Valid() {
		// The pattern admits base64 of impossible length.
		if _, _, err := DecodeDataURI(req.EncodedImage); err != nil {
			return err
		}
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return types.NewValidationError("contract", strings.Join(details, "; "))
}
