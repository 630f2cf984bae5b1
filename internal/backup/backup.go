// Package backup implements the backup/restore subsystem named in
// spec.md's persisted-state layout (a backups/ directory alongside the
// other state files): gzip-tar snapshots of $MC_STATE_DIR's own config,
// policy, rate-limit, circuit and events files, written and restored with the same
// atomic-rename discipline internal/store uses for single files.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/store"
)

// snapshotFiles is the fixed set of state files a backup captures. It
// deliberately excludes audit.log and audit.key: the audit trail is
// append-only and must never be restored over, only appended to.
var snapshotFiles = []string{
	constants.ConfigFileName,
	constants.PolicyFileName,
	constants.RateLimitsFileName,
	constants.CircuitsFileName,
	constants.EventsFileName,
}

// Manifest describes one backup archive.
type Manifest struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
	Files     []string  `json:"files"`
}

// HumanSize renders m.SizeBytes the way an operator reads it in `mc
// backup list` (e.g. "4.2MiB"), via the same library docker itself uses
// for `docker images`/`docker ps` size columns.
func (m Manifest) HumanSize() string {
	return units.BytesSize(float64(m.SizeBytes))
}

func backupsDir() (string, error) {
	dir, err := store.Dir()
	if err != nil {
		return "", err
	}
	full := filepath.Join(dir, constants.BackupsDirName)
	if err := os.MkdirAll(full, constants.DirPermissions); err != nil {
		return "", errkind.Wrap(errkind.Generic, "failed to create backups directory", err)
	}
	return full, nil
}

// Create snapshots every file in snapshotFiles that currently exists
// into a new gzip-tar archive named backup-<unix-millis>.tar.gz.
func Create() (*Manifest, error) {
	stateDir, err := store.Dir()
	if err != nil {
		return nil, err
	}
	dir, err := backupsDir()
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("backup-%d.tar.gz", time.Now().UnixMilli())
	archivePath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to create temp archive", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	var included []string
	for _, fname := range snapshotFiles {
		src := filepath.Join(stateDir, fname)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			tw.Close()
			gz.Close()
			tmp.Close()
			return nil, errkind.Wrap(errkind.Generic, "failed to read state file for backup", err)
		}
		hdr := &tar.Header{
			Name: fname,
			Mode: int64(constants.FilePermissions),
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			gz.Close()
			tmp.Close()
			return nil, errkind.Wrap(errkind.Generic, "failed to write archive header", err)
		}
		if _, err := tw.Write(data); err != nil {
			tw.Close()
			gz.Close()
			tmp.Close()
			return nil, errkind.Wrap(errkind.Generic, "failed to write archive entry", err)
		}
		included = append(included, fname)
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		tmp.Close()
		return nil, errkind.Wrap(errkind.Generic, "failed to finalize tar stream", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return nil, errkind.Wrap(errkind.Generic, "failed to finalize gzip stream", err)
	}
	if err := tmp.Chmod(constants.FilePermissions); err != nil {
		tmp.Close()
		return nil, errkind.Wrap(errkind.Generic, "failed to set archive permissions", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, errkind.Wrap(errkind.Generic, "failed to fsync archive", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to close archive", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to rename archive into place", err)
	}
	cleanup = false

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to stat written archive", err)
	}
	return &Manifest{Name: name, CreatedAt: time.Now().UTC(), SizeBytes: info.Size(), Files: included}, nil
}

// List returns every backup archive under $MC_STATE_DIR/backups, newest
// first.
func List() ([]Manifest, error) {
	dir, err := backupsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.Wrap(errkind.Generic, "failed to list backups directory", err)
	}
	var out []Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Manifest{Name: e.Name(), CreatedAt: info.ModTime().UTC(), SizeBytes: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore extracts the named archive's files back into $MC_STATE_DIR,
// one file at a time through store.SaveState's atomic-rename path so a
// mid-restore crash can never leave a half-written state file.
func Restore(name string) ([]string, error) {
	dir, err := backupsDir()
	if err != nil {
		return nil, err
	}
	archivePath := filepath.Join(dir, filepath.Base(name))
	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Newf(errkind.Absent, "backup %q not found", name).WithRule("BACKUP_NOT_FOUND")
		}
		return nil, errkind.Wrap(errkind.Generic, "failed to open backup archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errkind.Wrap(errkind.Integrity, "backup archive is not valid gzip", err).WithRule("BACKUP_CORRUPT")
	}
	defer gz.Close()

	stateDir, err := store.Dir()
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(snapshotFiles))
	for _, fname := range snapshotFiles {
		allowed[fname] = true
	}

	var restored []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, errkind.Wrap(errkind.Integrity, "backup archive is truncated or corrupt", err).WithRule("BACKUP_CORRUPT")
		}
		// Every entry name must be one of the fixed snapshot files: a
		// backup archive is never a place to smuggle an arbitrary path
		// into $MC_STATE_DIR (spec.md section 4.1's path-traversal rule).
		if !allowed[hdr.Name] {
			return restored, errkind.Newf(errkind.Security, "backup archive entry %q is not an allowed state file", hdr.Name).WithRule("BACKUP_PATH_NOT_ALLOWED")
		}
		data, err := io.ReadAll(io.LimitReader(tr, store.MaxFileBytes+1))
		if err != nil {
			return restored, errkind.Wrap(errkind.Generic, "failed to read backup archive entry", err)
		}
		if int64(len(data)) > store.MaxFileBytes {
			return restored, errkind.Newf(errkind.Validation, "backup archive entry %q exceeds the state file size cap", hdr.Name).WithRule("BACKUP_ENTRY_TOO_LARGE")
		}

		dest := filepath.Join(stateDir, hdr.Name)
		if hdr.Name == constants.PolicyFileName {
			// policy.yaml is YAML, not JSON; it is written back verbatim
			// rather than through store.SaveState, which is JSON-only.
			if err := os.WriteFile(dest, data, constants.FilePermissions); err != nil {
				return restored, errkind.Wrap(errkind.Generic, "failed to restore "+hdr.Name, err)
			}
			restored = append(restored, hdr.Name)
			continue
		}
		value, err := decodeJSONObject(data)
		if err != nil {
			return restored, errkind.Wrap(errkind.Integrity, "backup entry "+hdr.Name+" is not valid JSON", err).WithRule("BACKUP_CORRUPT")
		}
		if err := store.SaveState(dest, value); err != nil {
			return restored, errkind.Wrap(errkind.Generic, "failed to restore "+hdr.Name, err)
		}
		restored = append(restored, hdr.Name)
	}
	return restored, nil
}

func decodeJSONObject(data []byte) (map[string]any, error) {
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
