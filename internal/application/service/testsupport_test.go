package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/application/dto"
	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
)

// Compact in-memory repositories and collaborator stubs for wiring whole
// application services over real domain logic.

type lockStore struct {
	mu    sync.Mutex
	locks map[string]*models.DeviceLock
}

func newLockStore() *lockStore {
	return &lockStore{locks: make(map[string]*models.DeviceLock)}
}

func (s *lockStore) Save(_ context.Context, lock *models.DeviceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lock
	s.locks[lock.LockID] = &copied
	return nil
}

func (s *lockStore) FindByID(_ context.Context, lockID string) (*models.DeviceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[lockID]
	if !ok {
		return nil, errors.ErrLockNotFound(lockID)
	}
	copied := *lock
	return &copied, nil
}

func (s *lockStore) ActiveLocks(_ context.Context) ([]*models.DeviceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeviceLock
	for _, lock := range s.locks {
		if lock.LockStatus == constants.LockStatusActive {
			copied := *lock
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockID < out[j].LockID })
	return out, nil
}

func (s *lockStore) Delete(_ context.Context, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockID)
	return nil
}

type softLockStore struct {
	mu    sync.Mutex
	locks map[string]*models.SoftLock
}

func newSoftLockStore() *softLockStore {
	return &softLockStore{locks: make(map[string]*models.SoftLock)}
}

func (s *softLockStore) Save(_ context.Context, lock *models.SoftLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lock
	s.locks[lock.LockID] = &copied
	return nil
}

func (s *softLockStore) FindByID(_ context.Context, lockID string) (*models.SoftLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[lockID]
	if !ok {
		return nil, errors.ErrSoftLockNotFound(lockID)
	}
	copied := *lock
	return &copied, nil
}

func (s *softLockStore) FindUnresolvedByTrigger(_ context.Context, triggerKey string) (*models.SoftLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lock := range s.locks {
		if lock.TriggerKey == triggerKey && !lock.IsResolved {
			copied := *lock
			return &copied, nil
		}
	}
	return nil, errors.ErrSoftLockNotFound(triggerKey)
}

func (s *softLockStore) Unresolved(_ context.Context) ([]*models.SoftLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SoftLock
	for _, lock := range s.locks {
		if !lock.IsResolved {
			copied := *lock
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *softLockStore) Delete(_ context.Context, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockID)
	return nil
}

type commandStore struct {
	mu       sync.Mutex
	commands map[string]*models.OfflineCommand
}

func newCommandStore() *commandStore {
	return &commandStore{commands: make(map[string]*models.OfflineCommand)}
}

func (s *commandStore) Insert(_ context.Context, cmd *models.OfflineCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[cmd.CommandID]; ok {
		return errors.New(constants.ErrCodeConflict, "command already exists: "+cmd.CommandID)
	}
	copied := *cmd
	s.commands[cmd.CommandID] = &copied
	return nil
}

func (s *commandStore) Exists(_ context.Context, commandID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.commands[commandID]
	return ok, nil
}

func (s *commandStore) FindByID(_ context.Context, commandID string) (*models.OfflineCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return nil, errors.ErrCommandNotFound(commandID)
	}
	copied := *cmd
	return &copied, nil
}

func (s *commandStore) OldestPending(_ context.Context) (*models.OfflineCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.OfflineCommand
	for _, cmd := range s.commands {
		if cmd.Status != constants.CommandStatusPending {
			continue
		}
		if oldest == nil ||
			cmd.EnqueuedAt.Before(oldest.EnqueuedAt) ||
			(cmd.EnqueuedAt.Equal(oldest.EnqueuedAt) && cmd.CommandID < oldest.CommandID) {
			oldest = cmd
		}
	}
	if oldest == nil {
		return nil, errors.ErrCommandNotFound("pending")
	}
	copied := *oldest
	return &copied, nil
}

func (s *commandStore) UpdateStatus(_ context.Context, commandID string, status, result string, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return errors.ErrCommandNotFound(commandID)
	}
	cmd.Status = constants.CommandStatus(status)
	cmd.Result = result
	cmd.ExecutedAt = &executedAt
	return nil
}

func (s *commandStore) PendingCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, cmd := range s.commands {
		if cmd.Status == constants.CommandStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *commandStore) PurgeExecutedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, cmd := range s.commands {
		if cmd.Status == constants.CommandStatusPending || cmd.ExecutedAt == nil {
			continue
		}
		if cmd.ExecutedAt.Before(cutoff) {
			delete(s.commands, id)
			removed++
		}
	}
	return removed, nil
}

type incidentStore struct {
	mu        sync.Mutex
	incidents []*models.AuditIncident
}

func (s *incidentStore) Append(_ context.Context, incident *models.AuditIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *incident
	s.incidents = append(s.incidents, &copied)
	return nil
}

func (s *incidentStore) Unreported(_ context.Context, limit int) ([]*models.AuditIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditIncident
	for _, incident := range s.incidents {
		if incident.Reported {
			continue
		}
		copied := *incident
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *incidentStore) MarkReported(_ context.Context, incidentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(incidentIDs))
	for _, id := range incidentIDs {
		ids[id] = struct{}{}
	}
	for _, incident := range s.incidents {
		if _, ok := ids[incident.IncidentID]; ok {
			incident.Reported = true
		}
	}
	return nil
}

func (s *incidentStore) unreportedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, incident := range s.incidents {
		if !incident.Reported {
			count++
		}
	}
	return count
}

type baselineStore struct {
	mu      sync.Mutex
	profile *models.DeviceProfile
}

func (s *baselineStore) Load(_ context.Context) (*models.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil, errors.ErrBaselineNotFound()
	}
	copied := *s.profile
	return &copied, nil
}

func (s *baselineStore) Store(_ context.Context, profile *models.DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *profile
	s.profile = &copied
	return nil
}

type historyStore struct {
	mu      sync.Mutex
	entries []models.ChangeDetail
}

func (s *historyStore) Append(_ context.Context, changes []models.ChangeDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, changes...)
	return nil
}

func (s *historyStore) Recent(_ context.Context, limit int) ([]models.ChangeDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if limit > n {
		limit = n
	}
	out := make([]models.ChangeDetail, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

type threatStore struct {
	mu    sync.Mutex
	state *models.ThreatState
}

func (s *threatStore) Load(_ context.Context) (*models.ThreatState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &models.ThreatState{ID: 1, Level: constants.ProtectionStandard}
	}
	copied := *s.state
	return &copied, nil
}

func (s *threatStore) Store(_ context.Context, state *models.ThreatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.state = &copied
	return nil
}

// stubEnforcer tracks OS enforcement state without side effects.
type stubEnforcer struct {
	mu          sync.Mutex
	locked      bool
	deviceOwner bool
	deviceAdmin bool
	wiped       bool
	rebooted    bool
}

func newStubEnforcer() *stubEnforcer {
	return &stubEnforcer{deviceOwner: true, deviceAdmin: true}
}

func (e *stubEnforcer) LockNow(_ context.Context, _ constants.LockType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = true
	return nil
}

func (e *stubEnforcer) Unlock(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = false
	return nil
}

func (e *stubEnforcer) DisableDeveloperOptions(context.Context, bool) error { return nil }
func (e *stubEnforcer) PreventFactoryReset(context.Context) error           { return nil }
func (e *stubEnforcer) DisableUSB(context.Context, bool) error              { return nil }

func (e *stubEnforcer) IsDeviceOwner(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceOwner, nil
}

func (e *stubEnforcer) IsDeviceAdmin(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceAdmin, nil
}

func (e *stubEnforcer) RebootDevice(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebooted = true
	return nil
}

func (e *stubEnforcer) WipeData(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wiped = true
	return nil
}

func (e *stubEnforcer) isLocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

func (e *stubEnforcer) dropOwner() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceOwner = false
}

func (e *stubEnforcer) dropAdmin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceAdmin = false
}

// stubWatch is a hand-driven modified-path latch standing in for the
// fsnotify watcher.
type stubWatch struct {
	mu       sync.Mutex
	modified bool
	path     string
	resets   int
}

func (w *stubWatch) Run(context.Context) {}

func (w *stubWatch) Modified() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.modified, w.path
}

func (w *stubWatch) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modified = false
	w.path = ""
	w.resets++
}

func (w *stubWatch) latch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modified = true
	w.path = path
}

func (w *stubWatch) resetCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}

type stubOverlay struct {
	mu    sync.Mutex
	shown map[string]service.OverlayData
}

func newStubOverlay() *stubOverlay {
	return &stubOverlay{shown: make(map[string]service.OverlayData)}
}

func (o *stubOverlay) ShowOverlay(data service.OverlayData) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shown[data.LockID] = data
}

func (o *stubOverlay) DismissOverlay(lockID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.shown, lockID)
}

// stubSource serves a swappable identity snapshot and probe flags.
type stubSource struct {
	mu      sync.Mutex
	profile models.DeviceProfile
	flags   map[constants.TamperFlag]bool
}

func newStubSource(profile models.DeviceProfile) *stubSource {
	return &stubSource{profile: profile, flags: make(map[constants.TamperFlag]bool)}
}

func (s *stubSource) Collect(_ context.Context) (*models.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := s.profile
	copied.CapturedAt = time.Now().UTC()
	return &copied, nil
}

func (s *stubSource) Probe(_ context.Context, flag constants.TamperFlag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[flag], nil
}

func (s *stubSource) setFlag(flag constants.TamperFlag, detected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flag] = detected
}

func (s *stubSource) setProfile(profile models.DeviceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyCommand(*models.OfflineCommand) error { return nil }

// stubTransport records traffic and fails the next N heartbeat sends.
type stubTransport struct {
	mu        sync.Mutex
	failNext  int
	response  dto.HeartbeatResponse
	sent      []dto.HeartbeatPayload
	incidents []*models.AuditIncident
	mismatch  []*models.ComparisonResult
}

func newStubTransport() *stubTransport {
	return &stubTransport{response: dto.HeartbeatResponse{Success: true}}
}

func (t *stubTransport) SendHeartbeat(_ context.Context, _ string, payload *dto.HeartbeatPayload) (*dto.HeartbeatResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext > 0 {
		t.failNext--
		return nil, errors.ErrTransportFailed("heartbeat")
	}
	t.sent = append(t.sent, *payload)
	response := t.response
	return &response, nil
}

func (t *stubTransport) RegisterDevice(_ context.Context, _ *dto.RegistrationPayload) (string, error) {
	return "device-registered", nil
}

func (t *stubTransport) ReportIncident(_ context.Context, _ string, incident *models.AuditIncident) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incidents = append(t.incidents, incident)
	return nil
}

func (t *stubTransport) ReportMismatch(_ context.Context, _ string, result *models.ComparisonResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mismatch = append(t.mismatch, result)
	return nil
}

func (t *stubTransport) setResponse(response dto.HeartbeatResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.response = response
}

func (t *stubTransport) failNextSends(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

func (t *stubTransport) sentPayloads() []dto.HeartbeatPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]dto.HeartbeatPayload, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *stubTransport) mismatchReports() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mismatch)
}
