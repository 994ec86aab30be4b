package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 512

// Request is one command sent to a remote map service.
type Request struct {
	Method string
	// Path is joined to the dispatcher's base URL.
	Path   string
	Query  url.Values
	Header http.Header
}

// Response is the raw answer to a Request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Dispatcher executes requests against a remote map service. Execute
// blocks and must honour ctx cancellation.
type Dispatcher interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f DispatcherFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPDispatcher sends requests over HTTP to BaseURL. Non-2xx answers
// are returned as *StatusError.
type HTTPDispatcher struct {
	BaseURL   string
	Client    *http.Client
	UserAgent string
}

// NewHTTPDispatcher creates a dispatcher with a pooled client tuned for
// many small concurrent tile requests to one host.
func NewHTTPDispatcher(baseURL string) *HTTPDispatcher {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPDispatcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		UserAgent: "willowmap",
	}
}

// Execute implements Dispatcher.
func (d *HTTPDispatcher) Execute(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := d.BaseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	hreq, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, u, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if d.UserAgent != "" {
		hreq.Header.Set("User-Agent", d.UserAgent)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
