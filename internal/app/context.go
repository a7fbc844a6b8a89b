package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"raciline/internal/config"
	"raciline/internal/repo"
)

// WorkshopEnvKey names the current workshop in the environment and in <workspace>/.env.
const WorkshopEnvKey = "RACILINE_WORKSHOP"

// ResolveConfig returns the config stored in the workspace database. On first use it is
// seeded from raciline.yml when present, otherwise from defaults named after the workspace.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default(workspaceID(workspace))
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return seed, nil
}

func workspaceID(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "local"
	}
	name := strings.TrimSpace(filepath.Base(abs))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "local"
	}
	return name
}

// EnvPath returns the workspace .env file path.
func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// CurrentWorkshop picks the workshop from the override, the environment, then <workspace>/.env.
func CurrentWorkshop(workspace, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(os.Getenv(WorkshopEnvKey)); id != "" {
		return id, nil
	}
	id, err := GetEnvValue(EnvPath(workspace), WorkshopEnvKey)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("workshop not specified; use --workshop or 'rl workshop use <id>'")
	}
	return id, nil
}

// UseWorkshop records id as the current workshop of the workspace.
func UseWorkshop(workspace, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("workshop id is required")
	}
	return SetEnvValue(EnvPath(workspace), WorkshopEnvKey, id)
}

// GetEnvValue reads KEY=value from a dotenv file. A missing file yields "".
func GetEnvValue(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	value := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, key+"="); ok {
			value = strings.Trim(strings.TrimSpace(v), `"'`)
		}
	}
	return value, scanner.Err()
}

// SetEnvValue rewrites or appends KEY=value, keeping the other lines.
func SetEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
