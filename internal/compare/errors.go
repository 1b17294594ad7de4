package compare

import "github.com/sttcompare/gateway/internal/apierr"

// apierrAllUnavailable is returned when every requested provider failed
// availability or startup. The whole session aborts only when zero
// adapters start.
func apierrAllUnavailable() error {
	return apierr.New(apierr.Fatal, "compare.start_adapters", nil)
}
