// Package oracle wraps the analysis model behind a narrow interface so
// the extraction and suggestion engines never see transport or SDK
// details. The production implementation runs an eino chain against an
// Ark chat model; tests substitute a canned implementation.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no model is configured.
var ErrUnavailable = errors.New("analysis oracle unavailable")

// Fault wraps any expected, recoverable failure of the analysis
// capability: unreachable model, timeout, or output that never parsed.
// Callers degrade to empty results on a Fault; anything else is a
// programming error and should surface loudly.
type Fault struct {
	Stage string
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("oracle fault at %s: %v", f.Stage, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault reports whether err is an expected oracle failure.
func IsFault(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) || errors.Is(err, ErrUnavailable)
}

// Oracle is the structured-text capability the engines depend on:
// given a system/user prompt pair it returns one JSON object, or
// fails.
type Oracle interface {
	CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error)
}

// extractJSONObject pulls the first top-level JSON object out of model
// output, tolerating prose or code fences around it.
func extractJSONObject(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object in oracle output")
	}

	candidate := trimmed[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("malformed json object in oracle output")
	}
	return json.RawMessage(candidate), nil
}
