// Package log defines standard attribute keys for tracking operations.
//
// Keys follow a hierarchical naming convention ("run.id", "record.path") so
// that log lines from the adapter, sinks and CLI can be filtered together.

package log

// Run context
const (
	// RunIDKey identifies a tracking run (uuid for sql/offline sinks, the
	// MLflow run id for the mlflow sink).
	RunIDKey = "run.id"

	// RunNameKey is the human readable run name.
	RunNameKey = "run.name"

	// ExperimentKey names the experiment a run belongs to.
	ExperimentKey = "run.experiment"

	// ComponentKey identifies which package is logging.
	// Examples: "tracking", "sinks/mlflow", "tuning"
	ComponentKey = "component"
)

// Events and records
const (
	// EventKindKey is the lifecycle kind of a training event.
	// Values: "iteration", "trial", "study"
	EventKindKey = "event.kind"

	// StepKey is the step index of an event or record.
	StepKey = "record.step"

	// PathKey is the namespace path of a record, e.g. "metrics/auc".
	PathKey = "record.path"

	// RecordCountKey is the number of records in a forwarded batch.
	RecordCountKey = "record.count"

	// TrialNumberKey identifies a trial inside a study.
	TrialNumberKey = "trial.number"

	// TrialStateKey is the final state of a trial.
	TrialStateKey = "trial.state"
)

// Sinks and transport
const (
	// SinkNameKey names the sink backend ("memory", "offline", "sql", "mlflow", "prometheus").
	SinkNameKey = "sink.name"

	// EndpointKey is the remote endpoint of an HTTP sink request.
	EndpointKey = "http.endpoint"

	// StatusCodeKey is the HTTP status returned by a remote sink.
	StatusCodeKey = "http.status"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// FileKey is a local file path (offline run files, artifacts).
	FileKey = "file.path"
)

// Error context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides a hint for resolving an issue.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	EventIteration = "iteration"
	EventTrial     = "trial"
	EventStudy     = "study"
)
