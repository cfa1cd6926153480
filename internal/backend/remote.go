package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"agentfs/internal/logging"
)

// DefaultRemoteTimeout bounds each remote call when the configuration does
// not override it.
const DefaultRemoteTimeout = 30 * time.Second

// Remote implements the backend contract against a sandboxed workspace
// served by a provider agent over HTTP. The provider's implementation is
// out of scope here; its contract is the JSON surface below. Channel
// failures surface as ErrTimeout or ErrPermissionDenied, never as a panic.
//
// Remote also implements Executor: sandboxed workspaces accept command
// execution.
type Remote struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// RemoteOption customizes a Remote backend.
type RemoteOption func(*Remote)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// NewRemote creates a remote backend talking to the provider at baseURL.
func NewRemote(name, baseURL string, opts ...RemoteOption) (*Remote, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid remote base URL %q: %w", baseURL, err)
	}
	r := &Remote{
		name:    name,
		baseURL: baseURL,
		timeout: DefaultRemoteTimeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	logging.BackendDebug("remote backend %q at %s (timeout=%s)", name, baseURL, r.timeout)
	return r, nil
}

// Name implements Backend.
func (r *Remote) Name() string { return r.name }

// fsRequest is the wire form of a file operation sent to the provider.
type fsRequest struct {
	Op         string `json:"op"`
	Path       string `json:"path,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Content    string `json:"content,omitempty"`
	OldString  string `json:"old_string,omitempty"`
	NewString  string `json:"new_string,omitempty"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	PathScope  string `json:"path_scope,omitempty"`
	GlobFilter string `json:"glob_filter,omitempty"`
}

// fsResponse is the wire form of a provider reply. Exactly one payload field
// is populated on success; ErrorCode carries the taxonomy on failure.
type fsResponse struct {
	ErrorCode string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Entries   []Entry       `json:"entries,omitempty"`
	Read      *ReadResult   `json:"read,omitempty"`
	Write     *WriteResult  `json:"write,omitempty"`
	Edit      *EditResult   `json:"edit,omitempty"`
	Paths     []string      `json:"paths,omitempty"`
	Matches   []SearchMatch `json:"matches,omitempty"`
}

type execRequest struct {
	Command string `json:"command"`
}

func (r *Remote) call(ctx context.Context, endpoint string, req any, resp *fsResponse) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return r.mapTransportErr(err)
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return ErrPermissionDenied
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("remote returned status %d", httpResp.StatusCode)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("decoding remote response: %w", err)
	}
	if resp.ErrorCode != "" {
		return taxonomyFromCode(resp.ErrorCode, resp.Error)
	}
	return nil
}

// mapTransportErr folds channel failures into the taxonomy. A dead or slow
// channel looks the same to the caller: the operation did not complete in
// time.
func (r *Remote) mapTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	logging.BackendWarn("remote %s channel failure: %v", r.name, err)
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

func taxonomyFromCode(code, msg string) error {
	var sentinel error
	switch code {
	case "not_found":
		sentinel = ErrNotFound
	case "permission_denied":
		sentinel = ErrPermissionDenied
	case "no_match":
		sentinel = ErrNoMatch
	case "ambiguous_match":
		sentinel = ErrAmbiguousMatch
	case "timeout":
		sentinel = ErrTimeout
	default:
		return fmt.Errorf("remote error %s: %s", code, msg)
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// List implements Backend.
func (r *Remote) List(ctx context.Context, path string) ([]Entry, error) {
	var resp fsResponse
	if err := r.call(ctx, "/v1/fs", fsRequest{Op: "list", Path: path}, &resp); err != nil {
		return nil, NewOpError("list", path, r.name, err)
	}
	return resp.Entries, nil
}

// Read implements Backend.
func (r *Remote) Read(ctx context.Context, path string, offset, limit int) (*ReadResult, error) {
	var resp fsResponse
	req := fsRequest{Op: "read", Path: path, Offset: offset, Limit: limit}
	if err := r.call(ctx, "/v1/fs", req, &resp); err != nil {
		return nil, NewOpError("read", path, r.name, err)
	}
	if resp.Read == nil {
		return nil, NewOpError("read", path, r.name, fmt.Errorf("remote returned no read payload"))
	}
	return resp.Read, nil
}

// Write implements Backend.
func (r *Remote) Write(ctx context.Context, path, content string) (*WriteResult, error) {
	var resp fsResponse
	req := fsRequest{Op: "write", Path: path, Content: content}
	if err := r.call(ctx, "/v1/fs", req, &resp); err != nil {
		return nil, NewOpError("write", path, r.name, err)
	}
	if resp.Write == nil {
		return nil, NewOpError("write", path, r.name, fmt.Errorf("remote returned no write payload"))
	}
	return resp.Write, nil
}

// Edit implements Backend.
func (r *Remote) Edit(ctx context.Context, path, oldStr, newStr string, replaceAll bool) (*EditResult, error) {
	var resp fsResponse
	req := fsRequest{Op: "edit", Path: path, OldString: oldStr, NewString: newStr, ReplaceAll: replaceAll}
	if err := r.call(ctx, "/v1/fs", req, &resp); err != nil {
		return nil, NewOpError("edit", path, r.name, err)
	}
	if resp.Edit == nil {
		return nil, NewOpError("edit", path, r.name, fmt.Errorf("remote returned no edit payload"))
	}
	return resp.Edit, nil
}

// Glob implements Backend.
func (r *Remote) Glob(ctx context.Context, pattern string) ([]string, error) {
	var resp fsResponse
	if err := r.call(ctx, "/v1/fs", fsRequest{Op: "glob", Pattern: pattern}, &resp); err != nil {
		return nil, NewOpError("glob", pattern, r.name, err)
	}
	return resp.Paths, nil
}

// Search implements Backend.
func (r *Remote) Search(ctx context.Context, pattern, pathScope, globFilter string) ([]SearchMatch, error) {
	var resp fsResponse
	req := fsRequest{Op: "search", Pattern: pattern, PathScope: pathScope, GlobFilter: globFilter}
	if err := r.call(ctx, "/v1/fs", req, &resp); err != nil {
		return nil, NewOpError("search", pathScope, r.name, err)
	}
	return resp.Matches, nil
}

// Execute implements Executor.
func (r *Remote) Execute(ctx context.Context, command string) (*ExecResult, error) {
	body, err := json.Marshal(execRequest{Command: command})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.baseURL+"/v1/exec", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, NewOpError("execute", "", r.name, r.mapTransportErr(err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		if httpResp.StatusCode == http.StatusForbidden {
			return nil, NewOpError("execute", "", r.name, ErrPermissionDenied)
		}
		return nil, NewOpError("execute", "", r.name, fmt.Errorf("remote returned status %d", httpResp.StatusCode))
	}

	var result ExecResult
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return nil, NewOpError("execute", "", r.name, fmt.Errorf("decoding exec response: %w", err))
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	logging.Backend("execute on %s: exit=%d in %s", r.name, result.ExitCode, result.Duration)
	return &result, nil
}
