package orchestrator

import (
	"context"
	"fmt"
	"net/http"
)

// ProbeHealthURL issues a GET against url and reports an error unless
// the response status indicates success. It is the shared shape behind
// ComposeManager.probeHealth and HTTPControlManager.probeHealth,
// factored out so callers outside this package (the availability
// cache's readiness check) can reuse the same health-check semantics
// instead of rolling their own.
func ProbeHealthURL(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
