package errors

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewSinkUnavailableError(t *testing.T) {
	err := NewSinkUnavailableError("OnEvent", "sink already closed")

	want := "scitrack: OnEvent: sink unavailable: sink already closed"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	// スタックトレースの存在確認
	formatted := fmt.Sprintf("%+v", err)
	if !strings.Contains(formatted, "errors_test.go") {
		t.Error("Expected stack trace to contain test file name")
	}

	if !IsSinkUnavailable(err) {
		t.Error("IsSinkUnavailable should report true")
	}
	if IsTransport(err) || IsSerialization(err) {
		t.Error("SinkUnavailableError must not match other kinds")
	}
}

func TestNewSerializationError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "unsupported type",
			err:     NewSerializationError("params/layers", "unsupported value type", []int{1, 2}),
			wantMsg: "scitrack: cannot serialize 'params/layers': unsupported value type (got: []int)",
		},
		{
			name:    "with cause",
			err:     WrapSerializationError("artifacts/model", "read artifact file", fmt.Errorf("no such file")),
			wantMsg: "scitrack: cannot serialize 'artifacts/model': read artifact file: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", tt.err.Error(), tt.wantMsg)
			}

			var serErr *SerializationError
			if !As(tt.err, &serErr) {
				t.Error("Error should be castable to *SerializationError")
			}
		})
	}
}

func TestNewTransportError(t *testing.T) {
	cause := New("connection refused")
	err := NewTransportError("Append", "mlflow", 3, cause)

	if !Is(err, cause) {
		t.Error("TransportError should unwrap to its cause")
	}
	if !IsTransport(err) {
		t.Error("IsTransport should report true")
	}
	if !strings.Contains(err.Error(), "sink mlflow failed after 3 records") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("step", "must not decrease", int64(3))
	want := "scitrack: validation failed for parameter 'step': must not decrease (got: 3)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestMarshalZerologObject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logger.Error().EmbedObject(&TransportError{Op: "Append", Sink: "sql", Records: 2, Err: New("locked")}).Msg("append failed")

	out := buf.String()
	for _, want := range []string{`"type":"TransportError"`, `"sink":"sql"`, `"cause":"locked"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestWarn(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(error) {})

	Warn(NewNonFiniteWarning("metrics/loss", 4, math.NaN()))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "metrics/loss") {
		t.Errorf("warning should mention the path: %v", got[0])
	}
}

func TestCheckScalar(t *testing.T) {
	if err := CheckScalar("metrics/auc", 0.93); err != nil {
		t.Errorf("finite value rejected: %v", err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := CheckScalar("metrics/auc", v); !IsSerialization(err) {
			t.Errorf("CheckScalar(%v) = %v, want SerializationError", v, err)
		}
	}
}

func TestCheckValues(t *testing.T) {
	values := map[string]float64{"a": 1, "b": math.Inf(1), "c": math.NaN()}
	err := CheckValues("metrics/", []string{"a", "b", "c"}, values)

	var serErr *SerializationError
	if !As(err, &serErr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if serErr.Path != "metrics/b" {
		t.Errorf("expected first offending path metrics/b, got %s", serErr.Path)
	}
}

func TestWrapAndJoin(t *testing.T) {
	base := New("base")
	wrapped := Wrapf(Wrap(base, "append"), "run %s", "r1")
	if !Is(wrapped, base) {
		t.Error("wrapped error should match base")
	}
	if !strings.Contains(wrapped.Error(), "run r1: append: base") {
		t.Errorf("unexpected message %q", wrapped)
	}

	other := Newf("close %d", 1)
	joined := Join(base, nil, other)
	if !Is(joined, base) || !Is(joined, other) {
		t.Error("joined error should match both members")
	}
	if Join(nil, nil) != nil {
		t.Error("joining only nils should be nil")
	}
}
