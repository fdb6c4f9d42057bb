// Package enforcement carries the OS device-policy bindings. The stub
// implementation here records state in memory; platform builds replace it
// with the real device-policy binding behind the same interface.
package enforcement

import (
	"context"
	"sync"

	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

// StubEnforcer is an in-memory Enforcer for development and tests.
type StubEnforcer struct {
	mu sync.Mutex

	Locked             bool
	CurrentLockType    constants.LockType
	DevOptionsDisabled bool
	USBDisabled        bool
	ResetBlocked       bool
	DeviceOwner        bool
	DeviceAdmin        bool
	Rebooted           bool
	Wiped              bool

	logger logger.Logger
}

var _ service.Enforcer = (*StubEnforcer)(nil)

// NewStubEnforcer creates a stub holding device-owner privilege.
func NewStubEnforcer(log logger.Logger) *StubEnforcer {
	return &StubEnforcer{
		DeviceOwner: true,
		DeviceAdmin: true,
		logger:      log.WithComponent("enforcer"),
	}
}

func (s *StubEnforcer) LockNow(ctx context.Context, lockType constants.LockType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Locked = true
	s.CurrentLockType = lockType
	s.logger.Info(ctx, "Device locked", logger.String("lock_type", string(lockType)))
	return nil
}

func (s *StubEnforcer) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Locked = false
	s.CurrentLockType = ""
	s.logger.Info(ctx, "Device unlocked")
	return nil
}

func (s *StubEnforcer) DisableDeveloperOptions(ctx context.Context, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DevOptionsDisabled = disabled
	return nil
}

func (s *StubEnforcer) PreventFactoryReset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetBlocked = true
	return nil
}

func (s *StubEnforcer) DisableUSB(ctx context.Context, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.USBDisabled = disabled
	return nil
}

func (s *StubEnforcer) IsDeviceOwner(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeviceOwner, nil
}

func (s *StubEnforcer) IsDeviceAdmin(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeviceAdmin, nil
}

func (s *StubEnforcer) RebootDevice(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rebooted = true
	s.logger.Warn(ctx, "Device reboot requested")
	return nil
}

func (s *StubEnforcer) WipeData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Wiped = true
	s.logger.Warn(ctx, "Data wipe requested")
	return nil
}

// IsLocked reports the stub's enforcement state for tests and the monitor.
func (s *StubEnforcer) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Locked
}
