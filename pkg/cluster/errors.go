package cluster

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid node set, weight or option. It is
// returned at construction or selection time and is never retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "alloy cluster configuration: " + e.Message
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// NodeFailure pairs a node with the error its call produced.
type NodeFailure struct {
	Node NodeConfig
	Err  error
}

// AllNodesFailedError is returned when every selected candidate failed.
// Failures are in the order the candidates were tried. Err is set when the
// caller's context ended the call before the candidate list was exhausted.
type AllNodesFailedError struct {
	Err      error
	Op       Operation
	Failures []NodeFailure
}

func (e *AllNodesFailedError) Error() string {
	var sb strings.Builder
	if e.Err != nil {
		fmt.Fprintf(&sb, "alloy %s: stopped after %d node(s): %v", e.Op, len(e.Failures), e.Err)
	} else {
		fmt.Fprintf(&sb, "alloy %s: all %d node(s) failed", e.Op, len(e.Failures))
	}
	for i, f := range e.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %v", f.Node.Label(), f.Err)
	}
	return sb.String()
}

// Unwrap exposes every per-node error to errors.Is and errors.As.
func (e *AllNodesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
