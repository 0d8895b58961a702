package errlog

import (
	"errors"

	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/extract"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/resilience"
	"github.com/sells-group/ballot-research/internal/validate"
)

// Classify maps a pipeline error onto the taxonomy. Anything that is not a
// recognized data or response problem is an api_error.
func Classify(err error) Category {
	var ve *validate.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, research.ErrEmptyResponse):
		return CategoryEmptyResponse
	case errors.Is(err, extract.ErrNoJSON):
		return CategoryJSONParseFailure
	case errors.Is(err, research.ErrRateLimitExhausted):
		return CategoryRateLimit
	case errors.As(err, &ve):
		return CategoryValidation
	case errors.Is(err, baseline.ErrOfficeMismatch):
		return CategoryValidation
	case resilience.ClassOf(err) == resilience.ClassRateLimit:
		return CategoryRateLimit
	default:
		return CategoryAPIError
	}
}
