package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request is one logical call through the session pipeline.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Idempotent enables transient-failure retries. GET and HEAD are
	// always idempotent.
	Idempotent bool

	// Anonymous requests never carry a credential.
	Anonymous bool

	// Attempt counts authorization retries already spent on this request.
	// A request with Attempt >= 1 is never refreshed-and-resent again.
	Attempt int
}

func (r *Request) idempotent() bool {
	return r.Idempotent || r.Method == http.MethodGet || r.Method == http.MethodHead
}

func (r *Request) url(base string) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

func (r *Request) body() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if raw, ok := r.Body.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return data, nil
}

func Get(path string, query url.Values) *Request {
	return &Request{Method: http.MethodGet, Path: path, Query: query}
}

func Post(path string, body any) *Request {
	return &Request{Method: http.MethodPost, Path: path, Body: body}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Detail extracts the server's error message from common body shapes:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"message": "..."}, {"error": "..."}.
func (r *Response) Detail() string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return strings.TrimSpace(string(r.Body))
	}

	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil && len(items) > 0 {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				msgs = append(msgs, it.Msg)
			}
			return strings.Join(msgs, "; ")
		}
		return string(body.Detail)
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
