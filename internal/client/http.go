package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/presence"
	"github.com/google/uuid"
)

const (
	defaultTimeout = 30 * time.Second
	// getAttempts is how many times an idempotent request is tried when
	// the server is unreachable or answers 502, 503 or 504.
	getAttempts  = 3
	retryBackoff = 100 * time.Millisecond
)

// HTTPClient implements PipelinesClient over the /v1 REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

// NewHTTPClient targets baseURL (e.g. "http://localhost:8000"). A non-empty
// token is sent as a bearer token on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithActor sets the X-Actor header recorded on events and runs.
func (c *HTTPClient) WithActor(actor string) *HTTPClient {
	c.actor = actor
	return c
}

func (c *HTTPClient) Close() error { return nil }

// route builds "/v1/<seg>/<seg>..." escaping every segment.
func route(segs ...string) string {
	var b strings.Builder
	b.WriteString("/v1")
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func pipelineRoute(id string, rest ...string) string {
	return route(append([]string{"pipelines", id}, rest...)...)
}

// call sends body as JSON and decodes the response into a new T.
func call[T any](ctx context.Context, c *HTTPClient, method, path string, body any) (*T, error) {
	out := new(T)
	if err := c.do(ctx, method, path, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*model.Pipeline, error) {
	return call[model.Pipeline](ctx, c, http.MethodPost, route("pipelines"), req)
}

func (c *HTTPClient) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	return call[model.Pipeline](ctx, c, http.MethodGet, pipelineRoute(id), nil)
}

func (c *HTTPClient) ListPipelines(ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("search", req.Search)
	set("created_by", req.CreatedBy)
	set("node_type", req.NodeType)
	set("sort", req.Sort)
	if req.Limit > 0 {
		set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		set("offset", strconv.Itoa(req.Offset))
	}
	return call[ListPipelinesResponse](ctx, c, http.MethodGet, withQuery(route("pipelines"), q), nil)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *HTTPClient) RenamePipeline(ctx context.Context, id, name string) (*model.Pipeline, error) {
	return call[model.Pipeline](ctx, c, http.MethodPatch, pipelineRoute(id), map[string]string{"name": name})
}

func (c *HTTPClient) DeletePipeline(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pipelineRoute(id), nil, nil)
}

func (c *HTTPClient) AddNode(ctx context.Context, pipelineID string, req *AddNodeRequest) (*model.Node, error) {
	return call[model.Node](ctx, c, http.MethodPost, pipelineRoute(pipelineID, "nodes"), req)
}

func (c *HTTPClient) GetNode(ctx context.Context, pipelineID, nodeID string) (*model.Node, error) {
	return call[model.Node](ctx, c, http.MethodGet, pipelineRoute(pipelineID, "nodes", nodeID), nil)
}

func (c *HTTPClient) RemoveNode(ctx context.Context, pipelineID, nodeID string) ([]model.Edge, error) {
	resp, err := call[struct {
		RemovedEdges []model.Edge `json:"removed_edges"`
	}](ctx, c, http.MethodDelete, pipelineRoute(pipelineID, "nodes", nodeID), nil)
	if err != nil {
		return nil, err
	}
	return resp.RemovedEdges, nil
}

func (c *HTTPClient) UpdateNodeField(ctx context.Context, pipelineID, nodeID, key string, value any) (*UpdateNodeFieldResponse, error) {
	body := map[string]any{"key": key, "value": value}
	return call[UpdateNodeFieldResponse](ctx, c, http.MethodPatch, pipelineRoute(pipelineID, "nodes", nodeID, "data"), body)
}

func (c *HTTPClient) AddEdge(ctx context.Context, pipelineID string, req *AddEdgeRequest) (*model.Edge, error) {
	return call[model.Edge](ctx, c, http.MethodPost, pipelineRoute(pipelineID, "edges"), req)
}

func (c *HTTPClient) RemoveEdge(ctx context.Context, pipelineID, edgeID string) error {
	return c.do(ctx, http.MethodDelete, pipelineRoute(pipelineID, "edges", edgeID), nil, nil)
}

func (c *HTTPClient) Snapshot(ctx context.Context, pipelineID string) (*model.Snapshot, error) {
	return call[model.Snapshot](ctx, c, http.MethodGet, pipelineRoute(pipelineID, "snapshot"), nil)
}

func (c *HTTPClient) ValidatePipeline(ctx context.Context, pipelineID string) (*ValidationResult, error) {
	return call[ValidationResult](ctx, c, http.MethodPost, pipelineRoute(pipelineID, "validate"), nil)
}

func (c *HTTPClient) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := call[struct {
		Runs []*model.ValidationRun `json:"runs"`
	}](ctx, c, http.MethodGet, withQuery(pipelineRoute(pipelineID, "runs"), q), nil)
	if err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *HTTPClient) GetEvents(ctx context.Context, pipelineID string) ([]*model.Event, error) {
	resp, err := call[struct {
		Events []*model.Event `json:"events"`
	}](ctx, c, http.MethodGet, pipelineRoute(pipelineID, "events"), nil)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Sessions(ctx context.Context, active time.Duration) ([]presence.Entry, error) {
	q := url.Values{}
	if active > 0 {
		q.Set("active", active.String())
	}
	resp, err := call[struct {
		Sessions []presence.Entry `json:"sessions"`
	}](ctx, c, http.MethodGet, withQuery(route("sessions"), q), nil)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) Catalog(ctx context.Context) ([]*model.NodeSpec, error) {
	resp, err := call[struct {
		Types []*model.NodeSpec `json:"types"`
	}](ctx, c, http.MethodGet, route("catalog"), nil)
	if err != nil {
		return nil, err
	}
	return resp.Types, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	resp, err := call[struct {
		Status string `json:"status"`
	}](ctx, c, http.MethodGet, route("health"), nil)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError is a non-2xx response. Fields carries per-field validation
// failures when the server reports them.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	if len(e.Fields) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

func retryable(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

// do performs one API call. GETs are retried with backoff on transport
// errors and gateway statuses; a nil result discards the response body.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}
	attempts := 1
	if method == http.MethodGet {
		attempts = getAttempts
	}
	requestID := uuid.NewString()

	var status int
	var respBody []byte
	var err error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("performing request: %w", ctx.Err())
			case <-time.After(retryBackoff << (i - 1)):
			}
		}
		status, respBody, err = c.roundTrip(ctx, method, path, payload, requestID)
		if err == nil && !retryable(status) {
			break
		}
	}
	if err != nil {
		return err
	}

	if status >= 400 {
		var e struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return &APIError{StatusCode: status, Message: e.Error, Fields: e.Fields}
		}
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody))}
	}
	if result == nil || status == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, payload []byte, requestID string) (int, []byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}
