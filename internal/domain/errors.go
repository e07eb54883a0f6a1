package domain

import "fmt"

// InsufficientDataError reports that a method had too few historical
// observations to run. The method is omitted from the report; other methods
// proceed.
type InsufficientDataError struct {
	Product  string
	Required int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	if e.Product != "" {
		return fmt.Sprintf("insufficient price history for %s: only %d observations available (need at least %d)",
			e.Product, e.Actual, e.Required)
	}
	return fmt.Sprintf("insufficient price history: only %d observations available (need at least %d)",
		e.Actual, e.Required)
}

// NewInsufficientDataError creates an InsufficientDataError for a product.
func NewInsufficientDataError(product string, required, actual int) *InsufficientDataError {
	return &InsufficientDataError{Product: product, Required: required, Actual: actual}
}

// ConvergenceError reports that the GARCH optimizer failed to converge.
// It triggers the documented EWMA fallback; the result is flagged degraded.
type ConvergenceError struct {
	Product string
	Status  string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("volatility model for %s did not converge: status=%s", e.Product, e.Status)
}

// ConsistencyError reports an internal invariant violation such as
// VaR99 < VaR95. It is fatal: the whole calculation aborts, because it
// indicates a defect rather than a data issue.
type ConsistencyError struct {
	Check  string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %q failed: %s", e.Check, e.Detail)
}

// ConfigurationError reports an invalid input or setting (bad confidence
// level, non-positive simulation count). Fatal and surfaced immediately.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
