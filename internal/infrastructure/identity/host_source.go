// Package identity provides the device identity source. The host source
// reads what it can from the running system and takes the rest from static
// provisioning data; platform builds bind the real telephony and build-prop
// readers behind the same interface.
package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
)

// Provisioned is the static identity material supplied at enrollment.
type Provisioned struct {
	Manufacturer      string
	Model             string
	AndroidID         string
	DeviceFingerprint string
	Bootloader        string
	IMEI              string
	SerialNumber      string
	SimSerialNumber   string
	Hardware          string
}

// HostSource implements IdentitySource from provisioning data plus live
// host state. Flag state is settable so the security monitor and tests can
// reflect probe results.
type HostSource struct {
	mu          sync.Mutex
	provisioned Provisioned
	flags       map[constants.TamperFlag]bool
}

var _ service.IdentitySource = (*HostSource)(nil)

// NewHostSource creates the identity source.
func NewHostSource(provisioned Provisioned) *HostSource {
	return &HostSource{
		provisioned: provisioned,
		flags:       make(map[constants.TamperFlag]bool),
	}
}

// Collect captures a fresh identity snapshot.
func (h *HostSource) Collect(ctx context.Context) (*models.DeviceProfile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hostname, _ := os.Hostname()
	p := h.provisioned

	return &models.DeviceProfile{
		Manufacturer:       p.Manufacturer,
		Model:              p.Model,
		AndroidID:          p.AndroidID,
		DeviceFingerprint:  p.DeviceFingerprint,
		Bootloader:         p.Bootloader,
		IMEI:               p.IMEI,
		SerialNumber:       p.SerialNumber,
		SimSerialNumber:    p.SimSerialNumber,
		OSVersion:          runtime.GOOS,
		BuildNumber:        hostname,
		Hardware:           p.Hardware,
		Rooted:             h.flags[constants.TamperFlagRooted],
		BootloaderUnlocked: h.flags[constants.TamperFlagBootloaderUnlocked],
		USBDebugging:       h.flags[constants.TamperFlagUSBDebugging],
		DeveloperMode:      h.flags[constants.TamperFlagDeveloperMode],
		InstalledAppsHash:  digest("apps:" + hostname),
		SystemPropsHash:    digest("props:" + runtime.GOOS + runtime.GOARCH),
		CapturedAt:         time.Now().UTC(),
	}, nil
}

// Probe evaluates one live boolean check from the flag state.
func (h *HostSource) Probe(ctx context.Context, flag constants.TamperFlag) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags[flag], nil
}

// SetFlag records a probe result, used by platform detectors and tests.
func (h *HostSource) SetFlag(flag constants.TamperFlag, value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags[flag] = value
}

func digest(seed string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(seed)))
}
