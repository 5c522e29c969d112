package mlflow

import (
	"fmt"
	"net/http"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// MLflow error codes the sink reacts to.
const (
	ErrorCodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeResourceAlreadyExist = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeInvalidParameter     = "INVALID_PARAMETER_VALUE"
)

// MLFlowError is the JSON error body returned by the tracking server.
type MLFlowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode   int
	ResponseBody string
	MLFlowError  *MLFlowError
}

func (e *APIError) Error() string {
	if e.MLFlowError != nil && e.MLFlowError.ErrorCode != "" {
		return fmt.Sprintf("mlflow: %d %s: %s", e.StatusCode, e.MLFlowError.ErrorCode, e.MLFlowError.Message)
	}
	return fmt.Sprintf("mlflow: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.ResponseBody)
}

// IsResourceDoesNotExistError reports whether err is a 404 or a
// RESOURCE_DOES_NOT_EXIST response.
func IsResourceDoesNotExistError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.MLFlowError != nil && apiErr.MLFlowError.ErrorCode == ErrorCodeResourceDoesNotExist {
		return true
	}
	return apiErr.StatusCode == http.StatusNotFound
}
