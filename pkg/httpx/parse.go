package httpx

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Body parsing limits.
const (
	// MaxFormBytes bounds urlencoded request bodies.
	MaxFormBytes = 1 << 20 // 1 MiB

	// MaxMultipartMemory bounds in-memory multipart parts; larger
	// parts spill to temporary files.
	MaxMultipartMemory = 8 << 20 // 8 MiB
)

// ParseError reports a malformed request. Handlers map it to a 400.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("httpx: %s: %v", e.Reason, e.Err)
	}
	return "httpx: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseParams extracts the parameter multimap from r. Query string
// values are always included; for POST requests, urlencoded and
// multipart bodies are merged in as well. Files uploaded through
// multipart forms are returned separately.
func ParseParams(r *http.Request) (Params, []*multipart.FileHeader, error) {
	params := make(Params)

	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, nil, &ParseError{Reason: "malformed query string", Err: err}
	}
	for k, vs := range query {
		params[k] = append(params[k], vs...)
	}

	if r.Method != http.MethodPost || r.Body == nil {
		return params, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return params, nil, nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, nil, &ParseError{Reason: "malformed content type", Err: err}
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, MaxFormBytes)
		if err := r.ParseForm(); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, nil, &ParseError{Reason: "form body too large", Err: err}
			}
			return nil, nil, &ParseError{Reason: "malformed form body", Err: err}
		}
		for k, vs := range r.PostForm {
			params[k] = append(params[k], vs...)
		}
		return params, nil, nil

	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(MaxMultipartMemory); err != nil {
			return nil, nil, &ParseError{Reason: "malformed multipart body", Err: err}
		}
		for k, vs := range r.MultipartForm.Value {
			params[k] = append(params[k], vs...)
		}
		var files []*multipart.FileHeader
		for _, fhs := range r.MultipartForm.File {
			files = append(files, fhs...)
		}
		return params, files, nil
	}

	return params, nil, nil
}
