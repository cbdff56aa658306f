package optimizer

import (
	"fmt"
	"strings"
)

// InfeasibleOptimizationError reports that no weight vector satisfies
// the active constraint set. Violations carries the constraints that
// cannot hold together, for operator diagnosis.
type InfeasibleOptimizationError struct {
	Violations []string
}

func (e *InfeasibleOptimizationError) Error() string {
	return fmt.Sprintf("infeasible optimization: %s", strings.Join(e.Violations, "; "))
}
