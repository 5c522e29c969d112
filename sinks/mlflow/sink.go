package mlflow

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// Limits of a single runs/log-batch request.
const (
	MaxMetricsPerBatch  = 1000
	MaxParamsPerBatch   = 100
	MaxTagsPerBatch     = 100
	MaxEntitiesPerBatch = 1000
)

// Config describes where and how to open the run.
type Config struct {
	TrackingURI    string
	Token          string
	ExperimentName string
	RunName        string
	Tags           map[string]string
	HTTPTimeout    time.Duration
}

// Sink logs records into one MLflow run:
//
//   - params/<name> becomes the param <name> (stringified)
//   - metrics/<name> becomes the metric <name>
//   - other numeric and bool records become metrics keyed by their full path
//   - other string records become tags keyed by their full path
//   - artifacts/<name> is uploaded as the artifact <name>
type Sink struct {
	client       *Client
	experimentID string
	runID        string
	now          func() time.Time

	mu     sync.Mutex
	params map[string]string
	failed error
	closed bool
	logger log.Logger
}

var (
	_ tracking.Sink          = (*Sink)(nil)
	_ tracking.FailureMarker = (*Sink)(nil)
)

// Open resolves the experiment (creating it if needed) and starts a run.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.TrackingURI == "" {
		return nil, errors.NewValidationError("tracking_uri", "must be set", cfg.TrackingURI)
	}
	if cfg.ExperimentName == "" {
		return nil, errors.NewValidationError("experiment_name", "must be set", cfg.ExperimentName)
	}
	client := NewClient(cfg.TrackingURI).WithToken(cfg.Token).WithLogger(log.GetLogger().With(log.ComponentKey, "mlflow"))
	if cfg.HTTPTimeout > 0 {
		client = client.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})
	}
	return OpenWithClient(ctx, client, cfg)
}

// OpenWithClient is Open with a preconfigured client.
func OpenWithClient(ctx context.Context, client *Client, cfg Config) (*Sink, error) {
	expID, err := client.GetOrCreateExperiment(ctx, cfg.ExperimentName)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve experiment %q", cfg.ExperimentName)
	}

	req := &CreateRunRequest{
		ExperimentID: expID,
		RunName:      cfg.RunName,
		StartTime:    time.Now().UnixMilli(),
		Tags:         sortedTags(cfg.Tags),
	}
	resp, err := client.CreateRun(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create run")
	}

	s := &Sink{
		client:       client,
		experimentID: expID,
		runID:        resp.Run.Info.RunID,
		now:          time.Now,
		params:       make(map[string]string),
	}
	s.logger = client.logger.With(log.RunIDKey, s.runID, log.ExperimentKey, cfg.ExperimentName)
	s.logger.Info("mlflow run started", log.RunNameKey, cfg.RunName)
	return s, nil
}

func (s *Sink) Name() string { return "mlflow" }

// RunID is the MLflow run id.
func (s *Sink) RunID() string { return s.runID }

// ExperimentID is the MLflow experiment id.
func (s *Sink) ExperimentID() string { return s.experimentID }

type artifact struct {
	path string
	data []byte
}

type batch struct {
	metrics   []Metric
	params    []Param
	tags      []Tag
	artifacts []artifact
}

// Append maps records to MLflow entities, sends them in as few log-batch
// requests as the server limits allow and then uploads artifacts.
func (s *Sink) Append(ctx context.Context, records []tracking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mlflow sink closed")
	}

	b, err := s.convert(records)
	if err != nil {
		return err
	}
	for _, req := range chunk(s.runID, b) {
		if err := s.client.LogBatch(ctx, req); err != nil {
			return errors.Wrap(err, "log batch")
		}
	}
	for _, p := range b.params {
		s.params[p.Key] = p.Value
	}
	for _, a := range b.artifacts {
		if err := s.client.UploadArtifact(ctx, s.experimentID, s.runID, a.path, a.data); err != nil {
			return errors.Wrapf(err, "upload artifact %s", a.path)
		}
	}
	return nil
}

// convert never sends a param twice. MLflow params are immutable, so a
// changed value is an error rather than a silent overwrite.
func (s *Sink) convert(records []tracking.Record) (batch, error) {
	var b batch
	pending := make(map[string]string)
	for _, r := range records {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		ns, name := r.Namespace(), r.Name()

		switch {
		case r.Value.Kind == tracking.KindBytes:
			if ns == tracking.ArtifactsNamespace {
				b.artifacts = append(b.artifacts, artifact{path: name, data: r.Value.Bytes})
			} else {
				b.artifacts = append(b.artifacts, artifact{path: r.Path, data: r.Value.Bytes})
			}
		case ns == tracking.ParamsNamespace:
			v := r.Value.String()
			prev, ok := s.params[name]
			if !ok {
				prev, ok = pending[name]
			}
			if ok {
				if prev != v {
					return b, errors.NewValidationError(r.Path, "mlflow params cannot change within a run", v)
				}
				continue
			}
			pending[name] = v
			b.params = append(b.params, Param{Key: name, Value: v})
		case r.Value.Kind == tracking.KindString:
			b.tags = append(b.tags, Tag{Key: r.Path, Value: r.Value.Str})
		default:
			f, _ := r.Value.Numeric()
			key := r.Path
			if ns == tracking.MetricsNamespace {
				key = name
			}
			b.metrics = append(b.metrics, Metric{Key: key, Value: f, Timestamp: ts.UnixMilli(), Step: r.Step})
		}
	}
	return b, nil
}

// chunk splits b into log-batch requests within the server limits.
func chunk(runID string, b batch) []*LogBatchRequest {
	var reqs []*LogBatchRequest
	m, p, t := b.metrics, b.params, b.tags
	for len(m)+len(p)+len(t) > 0 {
		np := min(len(p), MaxParamsPerBatch)
		nt := min(len(t), MaxTagsPerBatch)
		nm := min(len(m), MaxMetricsPerBatch, MaxEntitiesPerBatch-np-nt)
		reqs = append(reqs, &LogBatchRequest{
			RunID:   runID,
			Metrics: m[:nm],
			Params:  p[:np],
			Tags:    t[:nt],
		})
		m, p, t = m[nm:], p[np:], t[nt:]
	}
	return reqs
}

// MarkFailed makes Close finish the run as FAILED.
func (s *Sink) MarkFailed(_ context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = cause
}

// Close sets the terminal run status.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	status := RunStatusFinished
	if s.failed != nil {
		status = RunStatusFailed
	}
	err := s.client.UpdateRun(ctx, &UpdateRunRequest{RunID: s.runID, Status: status, EndTime: s.now().UnixMilli()})
	if err != nil {
		return errors.Wrap(err, "update run status")
	}
	s.logger.Info("mlflow run ended", "status", status)
	return nil
}

func sortedTags(tags map[string]string) []Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Tag, len(keys))
	for i, k := range keys {
		out[i] = Tag{Key: k, Value: tags[k]}
	}
	return out
}
