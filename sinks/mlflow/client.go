// Package mlflow talks to an MLflow tracking server over its REST API and
// provides a tracking sink that logs records into one MLflow run.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

const (
	apiBasePath       = "/api/2.0/mlflow"
	artifactsBasePath = "/api/2.0/mlflow-artifacts/artifacts"

	endpointExperimentsCreate    = apiBasePath + "/experiments/create"
	endpointExperimentsGetByName = apiBasePath + "/experiments/get-by-name"
	endpointRunsCreate           = apiBasePath + "/runs/create"
	endpointRunsUpdate           = apiBasePath + "/runs/update"
	endpointRunsLogBatch         = apiBasePath + "/runs/log-batch"
)

// Client is an MLflow REST client. The With* methods return modified copies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     log.Logger
}

// NewClient creates a client for the tracking server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Nop(),
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.httpClient = httpClient
	return &cp
}

func (c *Client) WithToken(authToken string) *Client {
	cp := *c
	cp.authToken = authToken
	return &cp
}

func (c *Client) WithLogger(logger log.Logger) *Client {
	cp := *c
	if logger != nil {
		cp.logger = logger
	}
	return &cp
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken == "" {
		return
	}
	if strings.HasPrefix(c.authToken, "Bearer ") || strings.HasPrefix(c.authToken, "Basic ") {
		req.Header.Set("Authorization", c.authToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// doRequest sends body as JSON (or raw when it is []byte) and returns the
// response body of a 2xx reply. Anything else becomes an *APIError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	start := time.Now()
	var (
		reqBody     io.Reader
		contentType = "application/json"
	)
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("mlflow request errored", log.EndpointKey, endpoint, log.ErrAttrKey, err)
		return nil, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, ResponseBody: string(respBody)}
		var mlErr MLFlowError
		if json.Unmarshal(respBody, &mlErr) == nil && mlErr.ErrorCode != "" {
			apiErr.MLFlowError = &mlErr
		}
		c.logger.Debug("mlflow request failed",
			log.EndpointKey, endpoint,
			log.StatusCodeKey, resp.StatusCode,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
		return nil, apiErr
	}

	c.logger.Debug("mlflow request successful",
		log.EndpointKey, endpoint,
		log.StatusCodeKey, resp.StatusCode,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return respBody, nil
}

func unmarshalResponse[T any](respBody []byte) (*T, error) {
	var response T
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, errors.Wrap(err, "unmarshal response")
	}
	return &response, nil
}

// GetExperimentByName looks an experiment up by name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*GetExperimentResponse, error) {
	q := url.Values{"experiment_name": []string{name}}
	respBody, err := c.doRequest(ctx, http.MethodGet, endpointExperimentsGetByName+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return unmarshalResponse[GetExperimentResponse](respBody)
}

// CreateExperiment creates a new experiment.
func (c *Client) CreateExperiment(ctx context.Context, req *CreateExperimentRequest) (*CreateExperimentResponse, error) {
	if req == nil {
		return nil, errors.New("create experiment request is nil")
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, endpointExperimentsCreate, req)
	if err != nil {
		return nil, err
	}
	return unmarshalResponse[CreateExperimentResponse](respBody)
}

// GetOrCreateExperiment returns the id of the active experiment called name,
// creating it when it does not exist.
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err != nil && !IsResourceDoesNotExistError(err) {
		return "", err
	}
	if exp != nil && exp.Experiment.LifecycleStage == LifecycleActive && exp.Experiment.ExperimentID != "" {
		c.logger.Debug("found active experiment", log.ExperimentKey, name)
		return exp.Experiment.ExperimentID, nil
	}

	resp, err := c.CreateExperiment(ctx, &CreateExperimentRequest{Name: name})
	if err != nil {
		return "", err
	}
	c.logger.Info("created experiment", log.ExperimentKey, name, "experiment_id", resp.ExperimentID)
	return resp.ExperimentID, nil
}

// CreateRun starts a run.
func (c *Client) CreateRun(ctx context.Context, req *CreateRunRequest) (*CreateRunResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, endpointRunsCreate, req)
	if err != nil {
		return nil, err
	}
	return unmarshalResponse[CreateRunResponse](respBody)
}

// LogBatch logs metrics, params and tags in one request.
func (c *Client) LogBatch(ctx context.Context, req *LogBatchRequest) error {
	_, err := c.doRequest(ctx, http.MethodPost, endpointRunsLogBatch, req)
	return err
}

// UpdateRun sets the run status.
func (c *Client) UpdateRun(ctx context.Context, req *UpdateRunRequest) error {
	_, err := c.doRequest(ctx, http.MethodPost, endpointRunsUpdate, req)
	return err
}

// UploadArtifact stores data under path in the run's artifact root through
// the server's artifact proxy.
func (c *Client) UploadArtifact(ctx context.Context, experimentID, runID, path string, data []byte) error {
	endpoint := artifactsBasePath + "/" + url.PathEscape(experimentID) + "/" + url.PathEscape(runID) + "/artifacts/" + escapePath(path)
	_, err := c.doRequest(ctx, http.MethodPut, endpoint, data)
	return err
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
