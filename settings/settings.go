package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"gopkg.in/yaml.v3"
)

// Suffixes the pipeline derives on its own, settings suffixes must not clash with them.
const (
	ObjectExtension = ".o"
	OutputExtension = ".out"
	TempExtension   = ".hlang.temp"
)

// SupportedExtensions lists the settings document formats accepted by Load.
var SupportedExtensions = []string{".json", ".yaml", ".yml"}

// ConfigError ...
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid settings: %s", e.Err)
	}
	return fmt.Sprintf("invalid settings (%s): %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Extensions ...
type Extensions struct {
	Source       string
	Intermediate string
	Expected     string
}

// TestConfig ...
type TestConfig struct {
	Name    string
	Args    []string
	Exclude bool
	Cleanup bool
}

// SuiteConfig is the validated settings document. It is not modified after Load returns.
type SuiteConfig struct {
	ToolchainPath string
	Extensions    Extensions
	Tests         map[string]TestConfig
}

// Lookup returns the test declared under name.
func (c SuiteConfig) Lookup(name string) (TestConfig, bool) {
	test, ok := c.Tests[name]
	return test, ok
}

type extensionsDocument struct {
	Source       *string `json:"source" yaml:"source"`
	Intermediate *string `json:"intermediate" yaml:"intermediate"`
	Expected     *string `json:"expected" yaml:"expected"`
}

type testDocument struct {
	Args    []string `json:"args" yaml:"args"`
	Exclude bool     `json:"exclude" yaml:"exclude"`
	Cleanup bool     `json:"cleanup" yaml:"cleanup"`
}

// The "extentions" spelling is part of the settings file format.
type document struct {
	Toolchain  *string                 `json:"hivec" yaml:"hivec"`
	Extensions *extensionsDocument     `json:"extentions" yaml:"extentions"`
	Tests      map[string]testDocument `json:"tests" yaml:"tests"`
}

// Loader ...
type Loader interface {
	Load(pth string) (SuiteConfig, error)
}

type loader struct {
	pathChecker pathutil.PathChecker
	fileManager fileutil.FileManager
}

// NewLoader ...
func NewLoader(pathChecker pathutil.PathChecker, fileManager fileutil.FileManager) Loader {
	return loader{
		pathChecker: pathChecker,
		fileManager: fileManager,
	}
}

// Load reads and validates the settings document at pth. Every failure is a *ConfigError.
func (l loader) Load(pth string) (SuiteConfig, error) {
	if pth == "" {
		return SuiteConfig{}, &ConfigError{Err: errors.New("no settings file given")}
	}

	if exist, err := l.pathChecker.IsPathExists(pth); err != nil {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: err}
	} else if !exist {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: errors.New("file does not exist")}
	}
	if isDir, err := l.pathChecker.IsDirExists(pth); err != nil {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: err}
	} else if isDir {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: errors.New("path is a directory")}
	}

	ext := strings.ToLower(filepath.Ext(pth))
	if !isSupportedExtension(ext) {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: fmt.Errorf("settings file must be one of %s", strings.Join(SupportedExtensions, ", "))}
	}

	f, err := l.fileManager.Open(pth)
	if err != nil {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	raw, err := io.ReadAll(f)
	if err != nil {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: err}
	}

	cfg, err := Parse(raw, ext)
	if err != nil {
		return SuiteConfig{}, &ConfigError{Path: pth, Err: err}
	}
	return cfg, nil
}

// Parse decodes and validates a settings document, ext selects the format.
func Parse(raw []byte, ext string) (SuiteConfig, error) {
	var doc document
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return SuiteConfig{}, fmt.Errorf("invalid settings yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return SuiteConfig{}, fmt.Errorf("invalid settings json: %w", err)
		}
	}

	return doc.validate()
}

func (d document) validate() (SuiteConfig, error) {
	if d.Toolchain == nil || strings.TrimSpace(*d.Toolchain) == "" {
		return SuiteConfig{}, errors.New("missing required key: hivec")
	}
	if d.Extensions == nil {
		return SuiteConfig{}, errors.New("missing required key: extentions")
	}

	suffixes := []struct {
		key   string
		value *string
	}{
		{key: "extentions.source", value: d.Extensions.Source},
		{key: "extentions.intermediate", value: d.Extensions.Intermediate},
		{key: "extentions.expected", value: d.Extensions.Expected},
	}

	seen := map[string]string{
		ObjectExtension: "object suffix",
		OutputExtension: "output suffix",
		TempExtension:   "temp suffix",
	}
	for _, suffix := range suffixes {
		if suffix.value == nil {
			return SuiteConfig{}, fmt.Errorf("missing required key: %s", suffix.key)
		}
		if *suffix.value == "" {
			return SuiteConfig{}, fmt.Errorf("%s must not be empty", suffix.key)
		}
		if other, ok := seen[*suffix.value]; ok {
			return SuiteConfig{}, fmt.Errorf("%s (%s) collides with the %s", suffix.key, *suffix.value, other)
		}
		seen[*suffix.value] = suffix.key
	}

	// The assembler derives the object path by replacing the last extension of the intermediate file.
	if intermediate := *d.Extensions.Intermediate; filepath.Ext(intermediate) != intermediate {
		return SuiteConfig{}, fmt.Errorf("extentions.intermediate (%s) must be a single extension like .asm", intermediate)
	}

	if d.Tests == nil {
		return SuiteConfig{}, errors.New("missing required key: tests")
	}

	tests := make(map[string]TestConfig, len(d.Tests))
	for name, test := range d.Tests {
		if strings.TrimSpace(name) == "" {
			return SuiteConfig{}, errors.New("tests: empty test name")
		}

		args := make([]string, len(test.Args))
		copy(args, test.Args)

		tests[name] = TestConfig{
			Name:    name,
			Args:    args,
			Exclude: test.Exclude,
			Cleanup: test.Cleanup,
		}
	}

	return SuiteConfig{
		ToolchainPath: *d.Toolchain,
		Extensions: Extensions{
			Source:       *d.Extensions.Source,
			Intermediate: *d.Extensions.Intermediate,
			Expected:     *d.Extensions.Expected,
		},
		Tests: tests,
	}, nil
}

func isSupportedExtension(ext string) bool {
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}
