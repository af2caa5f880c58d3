package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxRequestBodySize caps JSON bodies of user and admin actions.
const maxRequestBodySize = 64 << 10

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type, expected application/json")
	ErrInvalidRequestBody   = errors.New("invalid request body")
)

// decodeJSON strictly decodes a single JSON object from r into v. An empty
// body leaves v untouched so actions with only optional fields accept it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 && r.Header.Get("Content-Type") == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return ErrUnsupportedMediaType
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidRequestBody, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequestBody, err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidRequestBody)
	}
	return nil
}
