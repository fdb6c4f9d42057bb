package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// provisionFile is written into the data directory at enrollment time by
// the installer.
const provisionFile = "provision.json"

// LoadProvisioned reads the static identity material from the data
// directory. A missing file yields an empty Provisioned; collection then
// relies on live host state only.
func LoadProvisioned(dataDir string) (Provisioned, error) {
	var p Provisioned
	data, err := os.ReadFile(filepath.Join(dataDir, provisionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Provisioned{}, err
	}
	return p, nil
}
