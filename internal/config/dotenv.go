package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

type envPair struct {
	key   string
	value string
}

// LoadDotEnv loads environment variables from .env-like files, typically
// the deployment's .env next to the api binary. Variables already set in
// the process environment keep precedence, and missing files are
// skipped, so a container that configures everything through real env
// vars needs no file at all.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}

		pairs, err := readEnvFile(trimmed)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		for _, pair := range pairs {
			if _, exists := os.LookupEnv(pair.key); exists {
				continue
			}
			_ = os.Setenv(pair.key, pair.value)
		}
	}
	return nil
}

func readEnvFile(path string) ([]envPair, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var pairs []envPair
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pair, ok := parseEnvLine(scanner.Text()); ok {
			pairs = append(pairs, pair)
		}
	}
	return pairs, scanner.Err()
}

func parseEnvLine(raw string) (envPair, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return envPair{}, false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return envPair{}, false
	}
	return envPair{key: key, value: unquoteEnvValue(value)}, true
}

func unquoteEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 {
		quote := trimmed[0]
		if (quote == '"' || quote == '\'') && trimmed[len(trimmed)-1] == quote {
			inner := trimmed[1 : len(trimmed)-1]
			if quote == '\'' {
				return inner
			}
			return strings.NewReplacer(
				`\\`, `\`,
				`\n`, "\n",
				`\r`, "\r",
				`\t`, "\t",
				`\"`, `"`,
			).Replace(inner)
		}
	}

	// unquoted values may carry a trailing inline comment: VALUE # note
	if index := strings.Index(trimmed, " #"); index >= 0 {
		return strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}
