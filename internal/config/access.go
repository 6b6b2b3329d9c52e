package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vaultline.org/internal/access"
	"vaultline.org/internal/audit"
)

// User is one entry of the users list.
type User struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// AccessFile is the on-disk shape of the access-control file.
type AccessFile struct {
	AdminRole         string           `yaml:"admin_role"`
	DefaultRole       string           `yaml:"default_role"`
	EntityPermissions access.RoleTable `yaml:"entity_permissions"`
	Users             []User           `yaml:"users"`
	Grants            []access.Grant   `yaml:"grants"`
}

// LoadAccessFile reads and parses path.
func LoadAccessFile(path string) (access.Config, audit.DirectoryMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return access.Config{}, nil, fmt.Errorf("config: read access file: %w", err)
	}
	return ParseAccess(data)
}

// ParseAccess decodes an access-control document. Unknown keys are rejected.
func ParseAccess(data []byte) (access.Config, audit.DirectoryMap, error) {
	var f AccessFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return access.Config{}, nil, fmt.Errorf("config: parse access file: %w", err)
	}

	cfg := access.Config{
		Roles:       f.EntityPermissions,
		Users:       make(map[string][]string, len(f.Users)),
		Grants:      f.Grants,
		DefaultRole: f.DefaultRole,
		AdminRole:   f.AdminRole,
	}
	dir := make(audit.DirectoryMap, len(f.Users))
	for i, u := range f.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return access.Config{}, nil, fmt.Errorf("config: users[%d]: id is required", i)
		}
		if _, dup := cfg.Users[id]; dup {
			return access.Config{}, nil, fmt.Errorf("config: users[%d]: duplicate id %q", i, id)
		}
		cfg.Users[id] = u.Roles
		if name := strings.TrimSpace(u.Name); name != "" {
			dir[id] = name
		}
	}
	return cfg, dir, nil
}
