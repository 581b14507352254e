// Package policymeta identifies the active policy bundle. The hash is stable
// across processes for identical bundle bytes, so audit events from different
// runs can be compared by policy content.
package policymeta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
)

// Meta is the process-level policy identity stamped on every audit event.
// Immutable after load.
type Meta struct {
	PolicyID      string `json:"policy_id"`
	PolicyVersion string `json:"policy_version"`
	PolicyHash    string `json:"policy_hash"`
}

// ComputeHash returns the hex SHA-256 over the bundle files, hashed as
// (name, bytes) pairs in sorted name order. Directory layout and file
// modification times do not affect the result.
func ComputeHash(fsys fs.FS) (string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk policy bundle: %w", err)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return "", fmt.Errorf("read policy file %s: %w", name, err)
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
