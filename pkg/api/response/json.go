// Package response writes the JSON bodies of the HTTP API.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const contentType = "application/json; charset=utf-8"

// JSON replies with status and v encoded as JSON. v is encoded first, so an
// unencodable value becomes a plain 500 instead of a truncated body. A nil
// v sends headers only.
func JSON(w http.ResponseWriter, status int, v any) {
	if v == nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		return
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(v); err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"code":"INTERNAL_SERVER_ERROR","message":"response encoding failed","request_id":"unknown"}}`+"\n")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

// Decode reads a single JSON object from the request body into v, refusing
// unknown fields and trailing data. An empty body leaves v untouched.
func Decode(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	switch err := dec.Decode(v); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the JSON body")
	}
	return nil
}
