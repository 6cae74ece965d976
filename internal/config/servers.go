package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ServerDef describes one tool-server subprocess.
type ServerDef struct {
	Name                string            `yaml:"-"`
	Command             string            `yaml:"command"`
	Args                []string          `yaml:"args,omitempty"`
	Env                 map[string]string `yaml:"env,omitempty"`
	AlwaysOn            bool              `yaml:"always_on,omitempty"`              // tools bypass retrieval
	RequiresGoogleToken bool              `yaml:"requires_google_token,omitempty"` // spawn only when the token file exists
}

type serversFile struct {
	Servers map[string]ServerDef `yaml:"servers"`
}

// LoadServers reads servers.yaml from the config directory. A missing
// file yields an empty list. Definitions come back sorted by name so
// startup connects in a stable order.
func LoadServers() ([]ServerDef, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadServersFile(filepath.Join(configDir, "servers.yaml"))
}

// LoadServersFile reads tool-server definitions from an explicit path.
func LoadServersFile(path string) ([]ServerDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	defs := make([]ServerDef, 0, len(f.Servers))
	for name, def := range f.Servers {
		if def.Command == "" {
			return nil, fmt.Errorf("parse %s: server %q has no command", path, name)
		}
		def.Name = name
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
