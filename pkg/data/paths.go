package data

import (
	"os"
	"path/filepath"
)

// ConfigSearchPaths lists the directories searched for a bare config file
// name that is not present in the working directory, in order.
func ConfigSearchPaths() []string {
	var dirs []string
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "elohistory"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".elohistory"))
	}
	return append(dirs, "/etc/elohistory")
}

// FindConfig resolves the configuration file to load. Paths with a directory
// part are returned unchanged. A bare name is looked up in the working
// directory first and then in dirs (ConfigSearchPaths when none given).
// When nothing is found the name is returned as is, so Load falls back to
// defaults.
func FindConfig(name string, dirs ...string) string {
	if name == "" || filepath.Base(name) != name {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	if len(dirs) == 0 {
		dirs = ConfigSearchPaths()
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}
