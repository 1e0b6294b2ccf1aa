// Package config implements the two on-disk configuration layers spec §6
// and §9 describe: the spec-fixed repository descriptor (`.muse/repo.json`)
// and free-form settings layered repo-over-global (`.muse/config.toml`,
// `$HOME/.muserc.toml`), mirroring the teacher's modules/zeta/config split
// between a raw descriptor and a TOML settings file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is written into every newly created repo.json.
const CurrentSchemaVersion = 1

// RepoDescriptor is the spec-mandated contents of .muse/repo.json. The wire
// format is fixed by spec §6, not a library choice, so it's encoded with
// plain encoding/json rather than the TOML settings layer below.
type RepoDescriptor struct {
	RepoID        string `json:"repo_id"`
	SchemaVersion int    `json:"schema_version"`
}

const repoDescriptorName = "repo.json"

// NewRepoDescriptor mints a fresh repository identity. repo_id is an opaque
// client-generated token (Open Question decision recorded in DESIGN.md),
// not a derived value — matches the teacher's practice of treating
// repository identity as assigned, not computed.
func NewRepoDescriptor() *RepoDescriptor {
	return &RepoDescriptor{
		RepoID:        uuid.NewString(),
		SchemaVersion: CurrentSchemaVersion,
	}
}

// WriteRepoDescriptor persists d to museDir/repo.json via create-temp-then-
// rename, the same atomicity idiom modules/refs and the merge/rebase state
// files use.
func WriteRepoDescriptor(museDir string, d *RepoDescriptor) error {
	if err := os.MkdirAll(museDir, 0o755); err != nil {
		return fmt.Errorf("config: create muse dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode repo descriptor: %w", err)
	}
	final := filepath.Join(museDir, repoDescriptorName)
	tmp := fmt.Sprintf("%s.tmp-%d", final, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write repo descriptor: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: rename repo descriptor: %w", err)
	}
	return nil
}

// ReadRepoDescriptor loads museDir/repo.json.
func ReadRepoDescriptor(museDir string) (*RepoDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(museDir, repoDescriptorName))
	if err != nil {
		return nil, fmt.Errorf("config: read repo descriptor: %w", err)
	}
	var d RepoDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse repo descriptor: %w", err)
	}
	return &d, nil
}
