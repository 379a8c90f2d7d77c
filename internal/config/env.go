package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileVar points at an extra .env file read before the default locations.
const EnvFileVar = "MEDREMIND_ENV_FILE"

// EnvVar is one assignment parsed from a .env file.
type EnvVar struct {
	Key   string
	Value string
}

// envFilePaths lists the .env files to read, highest priority first.
func envFilePaths() []string {
	var paths []string
	if explicit := os.Getenv(EnvFileVar); explicit != "" {
		paths = append(paths, expandPath(explicit))
	}
	paths = append(paths, ".env")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".medremind", ".env"),
			filepath.Join(home, ".config", "medremind", ".env"),
		)
	}
	return paths
}

// LoadEnvFiles exports variables from every .env file found. Variables that
// are already set win, so earlier files take priority over later ones.
func LoadEnvFiles() error {
	for _, path := range envFilePaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadEnvFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		v, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(v.Key); !set {
			os.Setenv(v.Key, v.Value)
		}
	}
	return scanner.Err()
}

// parseEnvLine accepts KEY=value with an optional "export " prefix and one
// level of matching quotes. Comments and malformed lines are skipped.
func parseEnvLine(line string) (EnvVar, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return EnvVar{}, false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return EnvVar{}, false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if q := value[0]; (q == '"' || q == '\'') && value[len(value)-1] == q {
			value = value[1 : len(value)-1]
		}
	}
	return EnvVar{Key: key, Value: value}, true
}

// envAliases maps a canonical MEDREMIND_* key to the conventional names
// also honoured for it.
var envAliases = map[string][]string{
	"MEDREMIND_SERVER_PORT":        {"PORT"},
	"MEDREMIND_SCHEDULER_TIMEZONE": {"TZ"},
	"MEDREMIND_STORAGE_DATA_DIR":   {"MEDREMIND_DATA_DIR"},
}

// ResolveEnvWithAliases returns the canonical variable, else the first alias
// that is set.
func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
