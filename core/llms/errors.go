package llms

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned by the capability registry for a
// provider/model pair that is not in its catalog.
var ErrUnknownModel = errors.New("unknown provider/model")

// ProviderUnavailableError reports that a backend cannot currently serve
// requests, e.g. an unsupported environment or a model download that has not
// finished. This layer never retries; the caller decides whether to wait.
type ProviderUnavailableError struct {
	Provider string
	Reason   string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}
