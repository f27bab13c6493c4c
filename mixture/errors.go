package mixture

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoTrainingData is returned when iterations are continued without a
	// data set handed to the model by Train, Iterate or DoFirstIterationOn.
	ErrNoTrainingData = errors.New("no training data set, cannot continue iterations")
	// ErrUnsupported is returned for requests that have no meaning for the
	// configured algorithm, e.g. per-component scores of a Gibbs sampled model.
	ErrUnsupported = errors.New("operation not supported by the training algorithm")
	// ErrNotTrained is returned when a model is used before it was trained.
	ErrNotTrained = errors.New("model is not trained")
)

// ConstructionError reports an invalid configuration detected while building a
// mixture model. No model is returned together with it.
type ConstructionError struct {
	Field  string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("mixture: invalid %s: %s", e.Field, e.Reason)
}

func constructionErrorf(field, format string, args ...interface{}) error {
	return &ConstructionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
