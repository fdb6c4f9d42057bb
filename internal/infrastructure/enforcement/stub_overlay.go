package enforcement

import (
	"context"
	"sync"

	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/logger"
)

// StubOverlay records overlay state in memory. Platform builds replace it
// with the real full-screen overlay binding.
type StubOverlay struct {
	mu     sync.Mutex
	active map[string]service.OverlayData
	logger logger.Logger
}

var _ service.OverlayRenderer = (*StubOverlay)(nil)

// NewStubOverlay creates an in-memory overlay renderer.
func NewStubOverlay(log logger.Logger) *StubOverlay {
	return &StubOverlay{
		active: make(map[string]service.OverlayData),
		logger: log.WithComponent("overlay"),
	}
}

func (s *StubOverlay) ShowOverlay(data service.OverlayData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[data.LockID] = data
	s.logger.Info(context.Background(), "Overlay shown",
		logger.String("lock_id", data.LockID),
		logger.String("title", data.Title),
		logger.Bool("dismissible", data.Dismissible),
	)
}

func (s *StubOverlay) DismissOverlay(lockID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, lockID)
	s.logger.Info(context.Background(), "Overlay dismissed", logger.String("lock_id", lockID))
}

// Active returns the currently displayed overlays, for tests and the local
// status API.
func (s *StubOverlay) Active() []service.OverlayData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.OverlayData, 0, len(s.active))
	for _, data := range s.active {
		out = append(out, data)
	}
	return out
}
