package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// DeviceProfile is an immutable snapshot of device identity and
// security-relevant flags. A new profile is captured at registration and at
// each verification cycle; existing profiles are never mutated in place.
type DeviceProfile struct {
	Manufacturer      string `json:"manufacturer"`
	Model             string `json:"model"`
	AndroidID         string `json:"android_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
	Bootloader        string `json:"bootloader"`
	IMEI              string `json:"imei"`
	SerialNumber      string `json:"serial_number"`
	SimSerialNumber   string `json:"sim_serial_number"`
	OSVersion         string `json:"os_version"`
	APILevel          int    `json:"api_level"`
	BuildNumber       string `json:"build_number"`
	Hardware          string `json:"hardware"`

	// Live security flags captured with the snapshot.
	Rooted             bool `json:"rooted"`
	BootloaderUnlocked bool `json:"bootloader_unlocked"`
	USBDebugging       bool `json:"usb_debugging"`
	DeveloperMode      bool `json:"developer_mode"`

	// Environment digests. These change on legitimate updates and are
	// therefore only MEDIUM-severity evidence.
	InstalledAppsHash string `json:"installed_apps_hash"`
	SystemPropsHash   string `json:"system_props_hash"`

	CapturedAt time.Time `json:"captured_at"`
}

// IdentityFields returns the monitored field name → value map used for
// baseline diffing. Key order is not significant; consumers sort.
func (p *DeviceProfile) IdentityFields() map[string]string {
	return map[string]string{
		"manufacturer":        p.Manufacturer,
		"model":               p.Model,
		"android_id":          p.AndroidID,
		"device_fingerprint":  p.DeviceFingerprint,
		"bootloader":          p.Bootloader,
		"imei":                p.IMEI,
		"serial_number":       p.SerialNumber,
		"sim_serial_number":   p.SimSerialNumber,
		"hardware":            p.Hardware,
		"rooted":              fmt.Sprintf("%t", p.Rooted),
		"bootloader_unlocked": fmt.Sprintf("%t", p.BootloaderUnlocked),
		"usb_debugging":       fmt.Sprintf("%t", p.USBDebugging),
		"developer_mode":      fmt.Sprintf("%t", p.DeveloperMode),
		"installed_apps_hash": p.InstalledAppsHash,
		"system_props_hash":   p.SystemPropsHash,
	}
}

// Fingerprint computes a stable digest over the identity fields. Keys are
// sorted before hashing so the digest is order-independent.
func (p *DeviceProfile) Fingerprint() string {
	fields := p.IdentityFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, fields[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
