package tracking

import (
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// Namespaces used as the first segment of every record path.
const (
	MetricsNamespace   = "metrics"
	ParamsNamespace    = "params"
	ArtifactsNamespace = "artifacts"
	TrialsNamespace    = "trials"
	BestNamespace      = "best"
)

// Record is the normalized unit forwarded to a Sink.
type Record struct {
	// Path is a slash-delimited namespace path such as "metrics/auc".
	Path      string    `cbor:"p" json:"path"`
	Value     Value     `cbor:"v" json:"value"`
	Step      int64     `cbor:"s" json:"step"`
	Timestamp time.Time `cbor:"t" json:"timestamp"`
}

// Namespace returns the first path segment of r.
func (r Record) Namespace() string {
	ns, _, _ := strings.Cut(r.Path, "/")
	return ns
}

// Name returns r.Path without its first segment.
func (r Record) Name() string {
	_, name, _ := strings.Cut(r.Path, "/")
	return name
}

// JoinPath joins segments with "/".
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// TrialPath returns the path prefix used for child trial i of a study.
func TrialPath(i int, rest ...string) string {
	return JoinPath(append([]string{TrialsNamespace, strconv.Itoa(i)}, rest...)...)
}

// validateName rejects names that would produce empty path segments.
func validateName(kind, name string) error {
	if name == "" {
		return errors.NewValidationError(kind, "name must not be empty", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return errors.NewValidationError(kind, "name must not contain empty path segments", name)
		}
	}
	return nil
}
