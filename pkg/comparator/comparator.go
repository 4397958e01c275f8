// Package comparator evaluates rollback-trigger rules against observed
// metric values.
package comparator

import (
	"fmt"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
)

// Operators supported by rollback triggers
const (
	GreaterThan    = "gt"
	GreaterOrEqual = "gte"
	LessThan       = "lt"
	LessOrEqual    = "lte"
	Equal          = "eq"
)

// Compare checks the observed value against the threshold for the given
// operator. It returns true when the rule is breached.
func Compare(observed float64, operator string, threshold float64) (bool, error) {
	switch operator {
	case GreaterThan:
		return observed > threshold, nil
	case GreaterOrEqual:
		return observed >= threshold, nil
	case LessThan:
		return observed < threshold, nil
	case LessOrEqual:
		return observed <= threshold, nil
	case Equal:
		return observed == threshold, nil
	}
	return false, cerrors.Error{
		ErrorCode: cerrors.ErrorTypeGeneric,
		Reason:    fmt.Sprintf("operator '%s' not supported in rollback triggers", operator),
	}
}
