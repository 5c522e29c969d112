package mlflow

import (
	"encoding/json"
	"math"
	"strconv"
)

// Run statuses accepted by runs/update.
const (
	RunStatusRunning  = "RUNNING"
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

// LifecycleActive is the lifecycle stage of a usable experiment.
const LifecycleActive = "active"

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"-"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// MarshalJSON writes non-finite values as the strings MLflow's protobuf
// JSON parser accepts ("NaN", "Infinity", "-Infinity").
func (m Metric) MarshalJSON() ([]byte, error) {
	type plain Metric
	out := struct {
		plain
		Value json.RawMessage `json:"value"`
	}{plain: plain(m)}
	switch {
	case math.IsNaN(m.Value):
		out.Value = json.RawMessage(`"NaN"`)
	case math.IsInf(m.Value, 1):
		out.Value = json.RawMessage(`"Infinity"`)
	case math.IsInf(m.Value, -1):
		out.Value = json.RawMessage(`"-Infinity"`)
	default:
		out.Value = json.RawMessage(strconv.FormatFloat(m.Value, 'g', -1, 64))
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both numbers and the non-finite string forms.
func (m *Metric) UnmarshalJSON(data []byte) error {
	type plain Metric
	var in struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Metric(in.plain)
	switch string(in.Value) {
	case "", "null":
	case `"NaN"`:
		m.Value = math.NaN()
	case `"Infinity"`:
		m.Value = math.Inf(1)
	case `"-Infinity"`:
		m.Value = math.Inf(-1)
	default:
		return json.Unmarshal(in.Value, &m.Value)
	}
	return nil
}

type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
	Tags             []Tag  `json:"tags,omitempty"`
}

type GetExperimentResponse struct {
	Experiment Experiment `json:"experiment"`
}

type CreateExperimentRequest struct {
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	Tags             []Tag  `json:"tags,omitempty"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type CreateRunRequest struct {
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name,omitempty"`
	StartTime    int64  `json:"start_time"`
	Tags         []Tag  `json:"tags,omitempty"`
}

type RunInfo struct {
	RunID        string `json:"run_id"`
	RunName      string `json:"run_name,omitempty"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	ArtifactURI  string `json:"artifact_uri,omitempty"`
}

type Run struct {
	Info RunInfo `json:"info"`
}

type CreateRunResponse struct {
	Run Run `json:"run"`
}

type LogBatchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time,omitempty"`
}
