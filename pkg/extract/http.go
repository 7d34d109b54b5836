package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/ormasoftchile/dumper/pkg/task"
)

// HTTPSpec describes a request whose response body is written verbatim.
type HTTPSpec struct {
	URL     string
	Method  string
	Headers map[string]string
}

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HTTPTask fetches a URL into its output.
type HTTPTask struct {
	task.Base
	spec HTTPSpec
}

func NewHTTP(path string, spec HTTPSpec, opts ...task.Option) *HTTPTask {
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	return &HTTPTask{Base: task.NewBase(path, opts...), spec: spec}
}

// httpClienter is implemented by handles that carry a configured client.
type httpClienter interface {
	HTTPClient() *http.Client
}

func (t *HTTPTask) client(rc task.RunContext) *http.Client {
	if h, ok := rc.Handle().(httpClienter); ok {
		if c := h.HTTPClient(); c != nil {
			return c
		}
	}
	c := &http.Client{}
	if args := rc.Arguments(); args != nil {
		c.Timeout = args.HTTPTimeout
	}
	return c
}

func (t *HTTPTask) Run(ctx context.Context, rc task.RunContext) (any, error) {
	_, err := t.WriteOutput(ctx, rc, func(w io.Writer) error {
		req, err := http.NewRequestWithContext(ctx, t.spec.Method, t.spec.URL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		for k, v := range t.spec.Headers {
			req.Header.Set(k, v)
		}
		resp, err := t.client(rc).Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", t.spec.Method, t.spec.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Method: t.spec.Method, URL: t.spec.URL, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	})
	return nil, err
}

func (t *HTTPTask) String() string {
	if s := t.Base.String(); s != t.Name() {
		return s
	}
	keys := make([]string, 0, len(t.spec.Headers))
	for k := range t.spec.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	desc := fmt.Sprintf("fetch %s: %s %s", t.Name(), t.spec.Method, t.spec.URL)
	if len(keys) > 0 {
		desc += " (headers: " + strings.Join(keys, ", ") + ")"
	}
	return desc
}
