package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"relaybot/internal/domain"
)

// GroupsFile is the YAML layout used to import and export registrations:
//
//	groups:
//	  "tg:-1001234":
//	    name: Family
//	    folder: family
type GroupsFile struct {
	Groups map[string]domain.RegisteredGroup `yaml:"groups"`
}

// LoadGroupsFile reads registrations from a YAML file.
func LoadGroupsFile(path string) (map[string]domain.RegisteredGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	var f GroupsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse groups file %s: %w", path, err)
	}
	for jid, g := range f.Groups {
		if err := ValidateGroup(jid, g); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, jid, err)
		}
	}
	return f.Groups, nil
}

// WriteGroupsFile writes registrations as YAML.
func WriteGroupsFile(path string, groups map[string]domain.RegisteredGroup) error {
	data, err := yaml.Marshal(GroupsFile{Groups: groups})
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ImportGroupsFile loads path and registers every entry it lists.
func (s *Store) ImportGroupsFile(ctx context.Context, path string) (int, error) {
	groups, err := LoadGroupsFile(path)
	if err != nil {
		return 0, err
	}
	return s.ImportGroups(ctx, groups)
}

// SortedJIDs returns the keys of groups in lexical order.
func SortedJIDs(groups map[string]domain.RegisteredGroup) []string {
	jids := make([]string, 0, len(groups))
	for jid := range groups {
		jids = append(jids, jid)
	}
	sort.Strings(jids)
	return jids
}
