package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/google/uuid"
)

// ParsePath is the validation endpoint on a remote validator.
const ParsePath = "/pipelines/parse"

// maxResponseBody caps how much of a response is read.
const maxResponseBody = 1 << 20

// HTTPValidator submits pipelines to a remote validator over HTTP.
type HTTPValidator struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPValidator targets the validator at baseURL (e.g.
// "http://localhost:8000"). When token is non-empty, an Authorization header
// is set on every request.
func NewHTTPValidator(baseURL, token string) *HTTPValidator {
	return &HTTPValidator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// URL returns the endpoint requests are posted to.
func (v *HTTPValidator) URL() string { return v.baseURL + ParsePath }

// Validate posts req and decodes the verdict.
func (v *HTTPValidator) Validate(ctx context.Context, req *model.PipelineRequest) (model.Verdict, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("marshaling request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL(), bytes.NewReader(data))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if v.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.token)
	}

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Verdict{}, fmt.Errorf("performing request: %w", ctxErr)
		}
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Verdict{}, fmt.Errorf("reading response: %w", ctxErr)
		}
		return model.Verdict{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Verdict{}, &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return decodeVerdict(body)
}
