// Package types defines core domain types for the loupe relay pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import "strings"

// UploadRequest is the encoded form of a single user submission.
// It is created once by the payload encoder and never mutated afterwards.
// JSON tags match the backend's extract-image-info body.
type UploadRequest struct {
	// RequestID is a unique identifier generated per submission.
	RequestID string `json:"id"`
	// Instruction is the user prompt merged with the formatting directive.
	Instruction string `json:"prompt"`
	// EncodedImage is a data URI: data:<mime>;base64,<payload>.
	EncodedImage string `json:"blob"`
	// Stream asks the backend for a server-push response.
	Stream bool `json:"stream,omitempty"`
	// MimeType is the declared type of the uploaded file.
	// Carried in EncodedImage on the wire, not serialized on its own.
	MimeType string `json:"-"`
	// Image is the decoded header, or nil when the content is not a
	// recognized image. Never serialized.
	Image *ImageInfo `json:"-"`
}

// DataURIPrefix returns the header portion of a data URI for mimeType.
func DataURIPrefix(mimeType string) string {
	return "data:" + mimeType + ";base64,"
}

// HasPayload reports whether EncodedImage carries any bytes past its header.
func (r *UploadRequest) HasPayload() bool {
	prefix := DataURIPrefix(r.MimeType)
	return strings.HasPrefix(r.EncodedImage, prefix) && len(r.EncodedImage) > len(prefix)
}

// WithStream returns a copy of the request with the stream flag set.
// The receiver is left unchanged.
func (r *UploadRequest) WithStream(stream bool) *UploadRequest {
	cp := *r
	cp.Stream = stream
	return &cp
}

// ImageInfo is what the encoder could read from the image header.
// It is informational: encoding never depends on it.
type ImageInfo struct {
	// Format is the decoder name: png, jpeg, gif, webp, bmp, tiff.
	Format string `json:"format" yaml:"format"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	// Orientation is the EXIF orientation, 1 through 8. 1 when absent.
	Orientation int `json:"orientation" yaml:"orientation"`
}

// MimeType returns the conventional MIME type of Format.
func (i *ImageInfo) MimeType() string {
	return "image/" + i.Format
}

// DisplaySize returns width and height as shown to a viewer, swapped for
// the EXIF orientations that rotate by 90 degrees.
func (i *ImageInfo) DisplaySize() (int, int) {
	if i.Orientation >= 5 && i.Orientation <= 8 {
		return i.Height, i.Width
	}
	return i.Width, i.Height
}
