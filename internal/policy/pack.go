package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PackInfo summarises one file in a policy directory.
type PackInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	Policies int    `json:"policies"`
	Error    string `json:"error,omitempty"`
}

// LoadDir reads every .yaml/.yml file in dir, in name order, and merges their
// policies. Files whose name starts with "_" are listed but not loaded. Any
// enabled file that fails to parse fails the whole load. The returned bytes
// are the concatenated sources of the enabled files, for hashing.
func LoadDir(dir string) ([]Policy, []byte, []PackInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read policy directory: %w", err)
	}

	var (
		merged []Policy
		raw    []byte
		infos  []PackInfo
		errs   []string
	)
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		info := PackInfo{
			Name:    strings.TrimPrefix(base, "_"),
			Path:    path,
			Enabled: !strings.HasPrefix(base, "_"),
		}

		data, err := os.ReadFile(path)
		var policies []Policy
		if err == nil {
			policies, err = decode(data)
		}
		if err != nil {
			info.Error = err.Error()
			infos = append(infos, info)
			if info.Enabled {
				errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			}
			continue
		}
		info.Policies = len(policies)
		infos = append(infos, info)

		if !info.Enabled {
			continue
		}
		merged = append(merged, policies...)
		raw = append(raw, entry.Name()...)
		raw = append(raw, '\n')
		raw = append(raw, data...)
	}

	if len(errs) > 0 {
		return nil, nil, infos, fmt.Errorf("invalid policy pack: %s", strings.Join(errs, "; "))
	}
	if err := Validate(merged); err != nil {
		return nil, nil, infos, fmt.Errorf("%s: %w", dir, err)
	}
	return merged, raw, infos, nil
}

// ListPacks describes the files LoadDir would read, without validating the
// merged set.
func ListPacks(dir string) ([]PackInfo, error) {
	_, _, infos, err := LoadDir(dir)
	if infos == nil && err != nil {
		return nil, err
	}
	return infos, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
