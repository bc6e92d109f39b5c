// Package client sends authenticated requests to the course platform API.
//
// A Client injects the session's bearer credential into every outbound request and owns the
// uniform reaction to an authorization failure: when the server answers 401, the session is torn
// down (server-side logout notification plus durable-store clearing) and the distinguished
// ErrSessionExpired is returned instead of the response. Callers must not read a body from an
// unauthorized response. Every other status, including other 4xx/5xx, is returned unmodified for
// the caller to interpret.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/edukit/course-client/internal/log"
)

// MaxResponseLength caps the byte-length of response bodies read through ReadBody.
const MaxResponseLength = 100000

// ErrSessionExpired indicates the server rejected the session's bearer token. The session has
// already been invalidated; the caller should redirect to re-authentication rather than continue.
var ErrSessionExpired = errors.New("session expired: please log in again")

const connectivityMessage = "could not reach the server"

// ConnectivityError wraps a transport failure under a fixed human-readable message. No response
// was obtained, so it carries no HTTP status.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return connectivityMessage
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// StatusError is an HTTP error response, with the human-readable message extracted from the body
// when the server supplied one.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// DecodeStatusError builds a StatusError from an error response body. Server error bodies are
// expected to look like {"message": "..."}, but a malformed or empty body must not itself fail:
// the message falls back to fallback, then to the HTTP status text.
func DecodeStatusError(status int, body []byte, fallback string) *StatusError {
	var payload struct {
		Message string `json:"message"`
	}
	message := fallback
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &StatusError{Status: status, Message: message}
}

// ReadBody drains a response body, capped at MaxResponseLength.
func ReadBody(response *http.Response) ([]byte, error) {
	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength}
	return io.ReadAll(&reader)
}

// Session is the credential source consulted on every request. A 401 response triggers Logout,
// the full session teardown path.
type Session interface {
	Token() string
	Logout(ctx context.Context)
}

// Client sends authenticated requests to the course platform API.
type Client struct {
	// The default UserAgent can be overridden.
	UserAgent string
	Host      string
	session   Session
	client    http.Client
}

// New returns a Client that authenticates requests against session's bearer token. The host
// should contain only the scheme and authority (e.g., "https://api.example.com").
func New(host string, session Session) *Client {
	return &Client{
		UserAgent: UserAgent(""),
		Host:      host,
		session:   session,
	}
}

// Request describes a single call to an API endpoint.
type Request struct {
	Method string
	Body   io.Reader
	// ContentType overrides the JSON default. Multipart bodies must set it to the multipart
	// writer's content type so the transport carries the correct boundary; the JSON default is
	// never applied to them.
	ContentType string
	Header      http.Header
}

// Get sends an HTTP GET request to endpoint.
//
// The endpoint should contain only the path (e.g., "courses/5"); the authority comes from c.Host.
func (c *Client) Get(ctx context.Context, endpoint string) (*http.Response, error) {
	return c.Send(ctx, endpoint, Request{Method: http.MethodGet})
}

// Post sends data to endpoint as a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, data []byte) (*http.Response, error) {
	return c.Send(ctx, endpoint, Request{Method: http.MethodPost, Body: bytes.NewReader(data)})
}

// Send issues a single authenticated request and returns the response unmodified, except for the
// unauthorized case described in the package comment.
func (c *Client) Send(ctx context.Context, endpoint string, req Request) (*http.Response, error) {
	url := fmt.Sprintf("%s/%s", c.Host, endpoint)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	request, err := http.NewRequestWithContext(ctx, method, url, req.Body)
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}

	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Accept", "*/*")
	switch {
	case req.ContentType != "":
		request.Header.Set("Content-Type", req.ContentType)
	case req.Body != nil:
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	// Caller-supplied headers win over the defaults.
	for name, values := range req.Header {
		request.Header.Del(name)
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}

	log.Debug("Requesting %s %s...", method, url)
	response, err := c.client.Do(request)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	if response.StatusCode == http.StatusUnauthorized {
		response.Body.Close()
		log.Info("Server rejected credentials for %s; invalidating session", endpoint)
		c.session.Logout(ctx)
		return nil, ErrSessionExpired
	}
	log.Debug("Server returned %d: %s", response.StatusCode, http.StatusText(response.StatusCode))
	return response, nil
}
