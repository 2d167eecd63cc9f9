package pool

import (
	"net/http"
	"time"
)

// PreRequestHook mutates an outgoing request before it is sent —
// signing, date headers, URL adjustment. Supplied per service adapter
// (§6's "Authentication and signing" and "Service adapter" contracts).
type PreRequestHook func(req *http.Request) error

// Client is the long-lived per-request-worker HTTP client. One Client
// is created per request worker and reused across many requests; its
// per-run timers are reset before each work item executes so the
// watchdog measures wall-clock time for the current item only.
type Client struct {
	HTTP       *http.Client
	PreRequest PreRequestHook

	runStarted time.Time
}

// NewClient builds a Client with the given pre-request hook and HTTP
// timeout. A nil hook is a no-op.
func NewClient(hook PreRequestHook, timeout time.Duration) *Client {
	if hook == nil {
		hook = func(*http.Request) error { return nil }
	}
	return &Client{
		HTTP:       &http.Client{Timeout: timeout},
		PreRequest: hook,
	}
}

// Do signs and sends req, after resetting the per-run timer.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.resetTimers()
	if err := c.PreRequest(req); err != nil {
		return nil, err
	}
	return c.HTTP.Do(req)
}

func (c *Client) resetTimers() {
	c.runStarted = time.Now()
}
