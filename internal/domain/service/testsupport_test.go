package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// In-memory fakes for the repository and collaborator interfaces. The lock
// and queue services are exercised against real state transitions rather
// than call expectations, so the fakes hold actual records and expose error
// knobs for the failure paths.

type memLockRepo struct {
	mu      sync.Mutex
	locks   map[string]*models.DeviceLock
	saveErr error
}

func newMemLockRepo() *memLockRepo {
	return &memLockRepo{locks: make(map[string]*models.DeviceLock)}
}

func (r *memLockRepo) Save(_ context.Context, lock *models.DeviceLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	copied := *lock
	r.locks[lock.LockID] = &copied
	return nil
}

func (r *memLockRepo) FindByID(_ context.Context, lockID string) (*models.DeviceLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[lockID]
	if !ok {
		return nil, errors.ErrLockNotFound(lockID)
	}
	copied := *lock
	return &copied, nil
}

func (r *memLockRepo) ActiveLocks(_ context.Context) ([]*models.DeviceLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeviceLock
	for _, lock := range r.locks {
		if lock.LockStatus == constants.LockStatusActive {
			copied := *lock
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockID < out[j].LockID })
	return out, nil
}

func (r *memLockRepo) Delete(_ context.Context, lockID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, lockID)
	return nil
}

type memSoftLockRepo struct {
	mu    sync.Mutex
	locks map[string]*models.SoftLock
}

func newMemSoftLockRepo() *memSoftLockRepo {
	return &memSoftLockRepo{locks: make(map[string]*models.SoftLock)}
}

func (r *memSoftLockRepo) Save(_ context.Context, lock *models.SoftLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *lock
	r.locks[lock.LockID] = &copied
	return nil
}

func (r *memSoftLockRepo) FindByID(_ context.Context, lockID string) (*models.SoftLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[lockID]
	if !ok {
		return nil, errors.ErrSoftLockNotFound(lockID)
	}
	copied := *lock
	return &copied, nil
}

func (r *memSoftLockRepo) FindUnresolvedByTrigger(_ context.Context, triggerKey string) (*models.SoftLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lock := range r.locks {
		if lock.TriggerKey == triggerKey && !lock.IsResolved {
			copied := *lock
			return &copied, nil
		}
	}
	return nil, errors.ErrSoftLockNotFound(triggerKey)
}

func (r *memSoftLockRepo) Unresolved(_ context.Context) ([]*models.SoftLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SoftLock
	for _, lock := range r.locks {
		if !lock.IsResolved {
			copied := *lock
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockID < out[j].LockID })
	return out, nil
}

func (r *memSoftLockRepo) Delete(_ context.Context, lockID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, lockID)
	return nil
}

type memEscalationRepo struct {
	mu        sync.Mutex
	deadlines map[string]*models.EscalationDeadline
}

func newMemEscalationRepo() *memEscalationRepo {
	return &memEscalationRepo{deadlines: make(map[string]*models.EscalationDeadline)}
}

func (r *memEscalationRepo) Save(_ context.Context, deadline *models.EscalationDeadline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *deadline
	r.deadlines[deadline.LockID] = &copied
	return nil
}

func (r *memEscalationRepo) FindByLockID(_ context.Context, lockID string) (*models.EscalationDeadline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline, ok := r.deadlines[lockID]
	if !ok {
		return nil, errors.New(constants.ErrCodeNotFound, "escalation deadline not found: "+lockID)
	}
	copied := *deadline
	return &copied, nil
}

func (r *memEscalationRepo) All(_ context.Context) ([]*models.EscalationDeadline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EscalationDeadline
	for _, deadline := range r.deadlines {
		copied := *deadline
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockID < out[j].LockID })
	return out, nil
}

func (r *memEscalationRepo) Delete(_ context.Context, lockID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deadlines, lockID)
	return nil
}

func (r *memEscalationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deadlines)
}

type memCommandRepo struct {
	mu       sync.Mutex
	commands map[string]*models.OfflineCommand
}

func newMemCommandRepo() *memCommandRepo {
	return &memCommandRepo{commands: make(map[string]*models.OfflineCommand)}
}

func (r *memCommandRepo) Insert(_ context.Context, cmd *models.OfflineCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[cmd.CommandID]; ok {
		return errors.New(constants.ErrCodeConflict, "command already exists: "+cmd.CommandID)
	}
	copied := *cmd
	r.commands[cmd.CommandID] = &copied
	return nil
}

func (r *memCommandRepo) Exists(_ context.Context, commandID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commands[commandID]
	return ok, nil
}

func (r *memCommandRepo) FindByID(_ context.Context, commandID string) (*models.OfflineCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[commandID]
	if !ok {
		return nil, errors.ErrCommandNotFound(commandID)
	}
	copied := *cmd
	return &copied, nil
}

func (r *memCommandRepo) OldestPending(_ context.Context) (*models.OfflineCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.OfflineCommand
	for _, cmd := range r.commands {
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

func (r *memCommandRepo) UpdateStatus(_ context.Context, commandID string, status, result string, executedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[commandID]
	if !ok {
		return errors.ErrCommandNotFound(commandID)
	}
	cmd.Status = constants.CommandStatus(status)
	cmd.Result = result
	cmd.ExecutedAt = &executedAt
	return nil
}

func (r *memCommandRepo) PendingCount(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, cmd := range r.commands {
		if cmd.Status == constants.CommandStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *memCommandRepo) PurgeExecutedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, cmd := range r.commands {
		if cmd.Status == constants.CommandStatusPending || cmd.ExecutedAt == nil {
			continue
		}
		if cmd.ExecutedAt.Before(cutoff) {
			delete(r.commands, id)
			removed++
		}
	}
	return removed, nil
}

type memBaselineRepo struct {
	mu      sync.Mutex
	profile *models.DeviceProfile
}

func (r *memBaselineRepo) Load(_ context.Context) (*models.DeviceProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil, errors.ErrBaselineNotFound()
	}
	copied := *r.profile
	return &copied, nil
}

func (r *memBaselineRepo) Store(_ context.Context, profile *models.DeviceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *profile
	r.profile = &copied
	return nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	entries []models.ChangeDetail
}

func (r *memHistoryRepo) Append(_ context.Context, changes []models.ChangeDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, changes...)
	return nil
}

func (r *memHistoryRepo) Recent(_ context.Context, limit int) ([]models.ChangeDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	if limit > n {
		limit = n
	}
	out := make([]models.ChangeDetail, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

type memIncidentRepo struct {
	mu        sync.Mutex
	incidents []*models.AuditIncident
}

func (r *memIncidentRepo) Append(_ context.Context, incident *models.AuditIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *incident
	r.incidents = append(r.incidents, &copied)
	return nil
}

func (r *memIncidentRepo) Unreported(_ context.Context, limit int) ([]*models.AuditIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditIncident
	for _, incident := range r.incidents {
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

func (r *memIncidentRepo) MarkReported(_ context.Context, incidentIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]struct{}, len(incidentIDs))
	for _, id := range incidentIDs {
		ids[id] = struct{}{}
	}
	for _, incident := range r.incidents {
		if _, ok := ids[incident.IncidentID]; ok {
			incident.Reported = true
		}
	}
	return nil
}

func (r *memIncidentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.incidents)
}

type memThreatRepo struct {
	mu    sync.Mutex
	state *models.ThreatState
}

func (r *memThreatRepo) Load(_ context.Context) (*models.ThreatState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		r.state = &models.ThreatState{ID: 1, Level: constants.ProtectionStandard}
	}
	copied := *r.state
	return &copied, nil
}

func (r *memThreatRepo) Store(_ context.Context, state *models.ThreatState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *state
	r.state = &copied
	return nil
}

// fakeEnforcer records enforcement calls and fails on demand.
type fakeEnforcer struct {
	mu sync.Mutex

	locked      bool
	lockType    constants.LockType
	lockCalls   int
	unlockCalls int

	devOptionsDisabled bool
	usbDisabled        bool
	resetBlocked       bool
	rebooted           bool
	wiped              bool
	deviceOwner        bool
	deviceAdmin        bool

	lockErr   error
	unlockErr error
}

func newFakeEnforcer() *fakeEnforcer {
	return &fakeEnforcer{deviceOwner: true, deviceAdmin: true}
}

func (f *fakeEnforcer) LockNow(_ context.Context, lockType constants.LockType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls++
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locked = true
	f.lockType = lockType
	return nil
}

func (f *fakeEnforcer) Unlock(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlockCalls++
	if f.unlockErr != nil {
		return f.unlockErr
	}
	f.locked = false
	return nil
}

func (f *fakeEnforcer) DisableDeveloperOptions(_ context.Context, disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devOptionsDisabled = disabled
	return nil
}

func (f *fakeEnforcer) PreventFactoryReset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetBlocked = true
	return nil
}

func (f *fakeEnforcer) DisableUSB(_ context.Context, disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usbDisabled = disabled
	return nil
}

func (f *fakeEnforcer) IsDeviceOwner(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceOwner, nil
}

func (f *fakeEnforcer) IsDeviceAdmin(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceAdmin, nil
}

func (f *fakeEnforcer) RebootDevice(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebooted = true
	return nil
}

func (f *fakeEnforcer) WipeData(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped = true
	return nil
}

func (f *fakeEnforcer) isLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

// fakeOverlay records shown and dismissed overlays.
type fakeOverlay struct {
	mu        sync.Mutex
	shown     map[string]service.OverlayData
	dismissed []string
}

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{shown: make(map[string]service.OverlayData)}
}

func (f *fakeOverlay) ShowOverlay(data service.OverlayData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown[data.LockID] = data
}

func (f *fakeOverlay) DismissOverlay(lockID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.shown, lockID)
	f.dismissed = append(f.dismissed, lockID)
}

func (f *fakeOverlay) active(lockID string) (service.OverlayData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.shown[lockID]
	return data, ok
}

// fakeScheduler records armed deadlines without running timers.
type fakeScheduler struct {
	mu        sync.Mutex
	armed     map[string]time.Time
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]time.Time)}
}

func (f *fakeScheduler) Arm(_ context.Context, lockID string, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[lockID] = deadline
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, lockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, lockID)
	f.cancelled = append(f.cancelled, lockID)
	return nil
}

func (f *fakeScheduler) armedDeadline(lockID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline, ok := f.armed[lockID]
	return deadline, ok
}

// fakeSource returns a fixed identity profile and per-flag probe results.
type fakeSource struct {
	mu         sync.Mutex
	profile    models.DeviceProfile
	flags      map[constants.TamperFlag]bool
	collectErr error
	probeErr   map[constants.TamperFlag]error
}

func newFakeSource(profile models.DeviceProfile) *fakeSource {
	return &fakeSource{
		profile:  profile,
		flags:    make(map[constants.TamperFlag]bool),
		probeErr: make(map[constants.TamperFlag]error),
	}
}

func (f *fakeSource) Collect(_ context.Context) (*models.DeviceProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	copied := f.profile
	copied.CapturedAt = time.Now().UTC()
	return &copied, nil
}

func (f *fakeSource) Probe(_ context.Context, flag constants.TamperFlag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.probeErr[flag]; err != nil {
		return false, err
	}
	return f.flags[flag], nil
}

func (f *fakeSource) setFlag(flag constants.TamperFlag, detected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[flag] = detected
}

func (f *fakeSource) setProfile(profile models.DeviceProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = profile
}

// fakeVerifier accepts or rejects every command.
type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) VerifyCommand(cmd *models.OfflineCommand) error {
	return f.err
}

// engineFixture wires a lock engine over in-memory state.
type engineFixture struct {
	engine    *service.LockEngine
	locks     *memLockRepo
	softLocks *memSoftLockRepo
	enforcer  *fakeEnforcer
	overlay   *fakeOverlay
	scheduler *fakeScheduler
}

func newEngineFixture(deviceID string) *engineFixture {
	log := logger.NewNoopLogger()
	f := &engineFixture{
		locks:     newMemLockRepo(),
		softLocks: newMemSoftLockRepo(),
		enforcer:  newFakeEnforcer(),
		overlay:   newFakeOverlay(),
		scheduler: newFakeScheduler(),
	}
	f.engine = service.NewLockEngine(
		deviceID,
		f.locks,
		f.softLocks,
		f.enforcer,
		f.overlay,
		time.Hour,
		logger.NewAuditLogger(log),
		log,
		nil,
	)
	f.engine.SetScheduler(f.scheduler)
	return f
}
