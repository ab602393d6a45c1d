package sessions

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const credentialPrefix = "session-"

// CredentialProbe detects persisted pairing state on disk. Each tenant gets
// one directory under the root, named deterministically from the tenant id;
// its presence is the only signal used to decide whether a disk-backed load
// should be attempted.
type CredentialProbe struct {
	root string
}

func NewCredentialProbe(root string) *CredentialProbe {
	return &CredentialProbe{root: root}
}

// Dir returns the tenant's credential segment path.
func (p *CredentialProbe) Dir(tenantID string) string {
	return filepath.Join(p.root, credentialPrefix+tenantID)
}

func (p *CredentialProbe) Exists(tenantID string) bool {
	info, err := os.Stat(p.Dir(tenantID))
	return err == nil && info.IsDir()
}

// Remove drops the tenant's credential segment. Called after a logout, which
// invalidates the stored credential.
func (p *CredentialProbe) Remove(tenantID string) error {
	return os.RemoveAll(p.Dir(tenantID))
}

// List returns the tenant ids that have a credential segment on disk.
func (p *CredentialProbe) List() []string {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("root", p.root).Msg("could not read credential root")
		}
		return nil
	}

	var tenants []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), credentialPrefix) {
			tenants = append(tenants, strings.TrimPrefix(entry.Name(), credentialPrefix))
		}
	}
	return tenants
}
