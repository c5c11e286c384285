package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Schema returns the CUE schema configuration files are validated against.
func Schema() string {
	return schemaSource
}

// schema is a compiled #Config definition.
type schema struct {
	ctx    *cue.Context
	config cue.Value
}

func compileSchema(content string) (*schema, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("schema content cannot be empty")
	}

	ctx := cuecontext.New()
	value := ctx.CompileString(content, cue.Filename("schema.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE schema: %w", err)
	}

	def := value.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return nil, errors.New("schema does not define #Config")
	}
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("invalid CUE schema: %w", err)
	}
	return &schema{ctx: ctx, config: def}, nil
}

// resolve unifies data with the schema and checks the result is complete.
func (s *schema) resolve(data map[string]any) (cue.Value, error) {
	if data == nil {
		data = map[string]any{}
	}
	value := s.ctx.Encode(data)
	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to encode configuration: %w", err)
	}

	unified := s.config.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, formatValidationError(err)
	}
	return unified, nil
}

// apply resolves data and decodes the result both as a generic tree and as Settings.
func (s *schema) apply(data map[string]any) (map[string]any, *Settings, error) {
	unified, err := s.resolve(data)
	if err != nil {
		return nil, nil, err
	}

	var tree map[string]any
	if err := unified.Decode(&tree); err != nil {
		return nil, nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	settings := &Settings{}
	if err := unified.Decode(settings); err != nil {
		return nil, nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return tree, settings, nil
}

// formatValidationError keeps the first CUE error line, which names the failing path.
func formatValidationError(err error) error {
	msg := strings.TrimSpace(err.Error())
	if first, _, ok := strings.Cut(msg, "\n"); ok {
		msg = first
	}
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// readConfigFile reads a YAML or JSON configuration file with environment
// variables expanded.
func readConfigFile(ctx *cue.Context, path string) (map[string]any, error) {
	content, err := safeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	content = expandEnvironmentVariables(content)
	if err := checkContent(content, path); err != nil {
		return nil, err
	}

	var value cue.Value
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err := yaml.Extract(path, content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		value = ctx.BuildFile(file)
	case ".json":
		value = ctx.CompileBytes(content, cue.Filename(path))
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	var data map[string]any
	if err := value.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return data, nil
}

func checkContent(content []byte, path string) error {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return fmt.Errorf("configuration file %s is empty", path)
	}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return nil
		}
	}
	return fmt.Errorf("configuration file %s contains only comments", path)
}

var envDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)

// expandEnvironmentVariables substitutes ${VAR:-default}, ${VAR} and $VAR.
func expandEnvironmentVariables(content []byte) []byte {
	withDefaults := envDefaultPattern.ReplaceAllStringFunc(string(content), func(match string) string {
		parts := envDefaultPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
	return []byte(os.ExpandEnv(withDefaults))
}

// safeReadFile reads a regular file of bounded size, refusing traversal and
// system paths.
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}

	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return nil, errors.New("invalid file path: contains directory traversal")
	}
	for _, dir := range []string{"/etc/shadow", "/etc/passwd", "/proc/", "/sys/"} {
		if strings.HasPrefix(clean, dir) {
			return nil, fmt.Errorf("access to system path not allowed: %s", dir)
		}
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("file validation failed: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("path must be a regular file")
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	return os.ReadFile(clean)
}
