// Package payload turns an uploaded file into the request body sent to the
// inference backend.
//
// Encoding reads the file into memory once, base64-encodes it into a data
// URI, and pairs it with a fresh request id and a normalized instruction.
// The image header is inspected on the way; content that is not an image
// is still encoded.
package payload

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/pithecene-io/loupe/types"
)

// DefaultPrompt is used when the caller supplies no prompt.
const DefaultPrompt = "Describe the image"

// FormattingDirective is appended to every prompt.
const FormattingDirective = "Please include as much details as possible and answer in markdown format."

// UnknownSize marks an Input whose handle did not report a size.
const UnknownSize int64 = -1

// Input is a single user submission before encoding.
type Input struct {
	// File is the uploaded content (required).
	File io.Reader
	// DeclaredSize is the size reported by the upload handle, or UnknownSize.
	DeclaredSize int64
	// MimeType is the declared type of the file (required).
	MimeType string
	// Prompt is the free-text instruction (optional).
	Prompt string
	// Stream requests a server-push response from the backend.
	Stream bool
}

// Encode validates in and produces an UploadRequest.
//
// Errors:
//   - types.ErrValidation: no file, no MIME type, or zero bytes (declared or read)
//   - types.ErrTransport: the file could not be read
func Encode(in Input) (*types.UploadRequest, error) {
	if in.File == nil {
		return nil, types.NewValidationError("encode", "no file uploaded")
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		return nil, types.NewValidationError("encode", "image type not provided")
	}
	if in.DeclaredSize == 0 {
		return nil, types.NewValidationError("encode", "file is empty")
	}

	data, err := io.ReadAll(in.File)
	if err != nil {
		return nil, types.NewTransportError("encode", err)
	}
	// A handle may report a size and still yield nothing.
	if len(data) == 0 {
		return nil, types.NewValidationError("encode", "file is empty")
	}

	return &types.UploadRequest{
		RequestID:    uuid.NewString(),
		Instruction:  BuildInstruction(in.Prompt),
		EncodedImage: EncodeDataURI(mimeType, data),
		Stream:       in.Stream,
		MimeType:     mimeType,
		Image:        Inspect(data),
	}, nil
}

// BuildInstruction merges a user prompt with the formatting directive.
// Trailing periods and whitespace are trimmed so the joined sentence has
// exactly one separator.
func BuildInstruction(prompt string) string {
	p := strings.TrimRight(strings.TrimSpace(prompt), ". ")
	if p == "" {
		p = DefaultPrompt
	}
	if strings.HasSuffix(p, "?") || strings.HasSuffix(p, "!") {
		return p + " " + FormattingDirective
	}
	return p + ". " + FormattingDirective
}

// EncodeDataURI returns data:<mime>;base64,<payload>.
func EncodeDataURI(mimeType string, data []byte) string {
	prefix := types.DataURIPrefix(mimeType)
	var b strings.Builder
	b.Grow(len(prefix) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(prefix)
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DecodeDataURI splits a base64 data URI into its MIME type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, types.NewValidationError("decode", "missing data: scheme")
	}
	mimeType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok || mimeType == "" {
		return "", nil, types.NewValidationError("decode", "missing ;base64, header")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, &types.RelayError{Kind: types.ErrValidation, Op: "decode", Msg: "invalid base64 payload", Err: err}
	}
	return mimeType, data, nil
}
