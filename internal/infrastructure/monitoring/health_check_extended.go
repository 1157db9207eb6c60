package monitoring

import (
	"context"
	"fmt"
	"time"

	"aivision/internal/core/domain"
	"aivision/pkg/utils"
)

// AddConnectionCheck fails unless the socket is connected.
func (h *HealthChecker) AddConnectionCheck(state func() domain.ConnectionState) {
	h.AddCheck("connection", func(ctx context.Context) (bool, error) {
		if s := state(); s != domain.StateConnected {
			return false, fmt.Errorf("connection is %s", s)
		}
		return true, nil
	}, 0)
}

// AddResultFreshnessCheck fails when the last applied detection result is
// older than maxAge. No result yet counts as stale only once connected.
func (h *HealthChecker) AddResultFreshnessCheck(snapshot func() domain.Snapshot, maxAge time.Duration) {
	h.AddCheck("results", func(ctx context.Context) (bool, error) {
		snap := snapshot()
		if snap.Connection != domain.StateConnected {
			return true, nil
		}
		if snap.LastResultAt.IsZero() {
			return false, fmt.Errorf("no detection result received yet")
		}
		if age := utils.Since(snap.LastResultAt); age > maxAge {
			return false, fmt.Errorf("last result %s ago", utils.FormatDuration(age))
		}
		return true, nil
	}, 0)
}

// AddBackendAPICheck probes the REST collaborator. It is optional: the socket
// works without it.
func (h *HealthChecker) AddBackendAPICheck(ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddOptionalCheck("backend_api", func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}
