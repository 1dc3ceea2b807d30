package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFileCandidates seeds the process environment from zaplink's env
// files: an explicit ZAPLINK_ENV_FILE, then ~/.config/zaplink/env, then
// ~/.zaplink/env. Variables already set on the process always win.
func LoadEnvFileCandidates() {
	for _, path := range envFileCandidates() {
		_ = loadEnvFile(path)
	}
}

func envFileCandidates() []string {
	var out []string
	if explicit := strings.TrimSpace(os.Getenv("ZAPLINK_ENV_FILE")); explicit != "" {
		if abs, err := filepath.Abs(explicit); err == nil {
			explicit = abs
		}
		out = append(out, explicit)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	for _, p := range []string{
		filepath.Join(home, ".config", "zaplink", "env"),
		filepath.Join(home, ".zaplink", "env"),
	} {
		if len(out) == 0 || out[0] != p {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := parseEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}

// parseEnvLine accepts KEY=VALUE lines, optionally "export "-prefixed,
// with single or double quotes around the value. Comments and anything
// without a key are skipped.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(val)
	if len(val) >= 2 {
		if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
	}
	return key, val, true
}
