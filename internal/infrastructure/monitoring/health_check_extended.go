package monitoring

import (
	"context"
	"fmt"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
)

// AddJournalCheck adds a spool journal health check
func (h *HealthChecker) AddJournalCheck(journal ports.SpoolJournal, timeout time.Duration) {
	h.AddCheck("spool_journal", func(ctx context.Context) (bool, error) {
		if err := journal.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddSessionCheck fails when the supervisor has been out of a session for
// longer than grace, e.g. because the host is unreachable.
func (h *HealthChecker) AddSessionCheck(status func() domain.SessionStatus, grace time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		s := status()
		if s.Phase != domain.PhaseDisconnected.String() {
			return true, nil
		}
		if since := time.Since(s.PhaseChanged); since > grace {
			if s.LastError != "" {
				return false, fmt.Errorf("disconnected for %s: %s", since.Round(time.Second), s.LastError)
			}
			return false, fmt.Errorf("disconnected for %s", since.Round(time.Second))
		}
		return true, nil
	}, time.Second)
}
