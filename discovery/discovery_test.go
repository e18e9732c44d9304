package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/bitrise-steplib/steps-toolchain-test/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GivenTestDirectory_WhenScanning_ThenClassifiesSources(t *testing.T) {
	// Given
	dir := t.TempDir()
	touch(t, dir, "add.hive", "add.expected", "skipme.hive", "orphan.hive", "notes.txt", "add.asm")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.hive"), 0755))

	// When
	candidates := collect(t, NewScanner(fileutil.NewFileManager(), pathutil.NewPathModifier(), false), dir)

	// Then
	require.Len(t, candidates, 3)

	add := candidates["add"]
	assert.Equal(t, models.NotSkipped, add.Skip)
	assert.Equal(t, filepath.Join(dir, "add.hive"), add.Case.SourcePath)
	assert.Equal(t, []string{"3", "4"}, add.Case.Config.Args)

	assert.Equal(t, models.SkipExcludedTest, candidates["skipme"].Skip)
	assert.Equal(t, models.SkipUnknownTest, candidates["orphan"].Skip)
}

func Test_GivenSortedScanner_WhenScanning_ThenYieldsLexicalOrder(t *testing.T) {
	// Given
	dir := t.TempDir()
	touch(t, dir, "c.hive", "a.hive", "b.hive")
	scanner := NewScanner(fileutil.NewFileManager(), pathutil.NewPathModifier(), true)

	// When
	var names []string
	for candidate, err := range scanner.Scan(dir, suiteConfig()) {
		require.NoError(t, err)
		names = append(names, candidate.Name)
	}

	// Then
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func Test_GivenConsumerStopsEarly_WhenScanning_ThenStops(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.hive", "b.hive", "c.hive")

	count := 0
	for _, err := range NewScanner(fileutil.NewFileManager(), pathutil.NewPathModifier(), false).Scan(dir, suiteConfig()) {
		require.NoError(t, err)
		count++
		break
	}

	assert.Equal(t, 1, count)
}

func Test_GivenMissingDirectory_WhenScanning_ThenYieldsError(t *testing.T) {
	scanner := NewScanner(fileutil.NewFileManager(), pathutil.NewPathModifier(), false)

	var errs []error
	for _, err := range scanner.Scan(filepath.Join(t.TempDir(), "missing"), suiteConfig()) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func suiteConfig() settings.SuiteConfig {
	return settings.SuiteConfig{
		ToolchainPath: "hivec",
		Extensions:    settings.Extensions{Source: ".hive", Intermediate: ".asm", Expected: ".expected"},
		Tests: map[string]settings.TestConfig{
			"add":    {Name: "add", Args: []string{"3", "4"}, Cleanup: true},
			"skipme": {Name: "skipme", Exclude: true},
			"a":      {Name: "a"},
			"b":      {Name: "b"},
			"c":      {Name: "c"},
		},
	}
}

func collect(t *testing.T, scanner Scanner, dir string) map[string]Candidate {
	candidates := map[string]Candidate{}
	for candidate, err := range scanner.Scan(dir, suiteConfig()) {
		require.NoError(t, err)
		candidates[candidate.Name] = candidate
	}
	return candidates
}

func touch(t *testing.T, dir string, names ...string) {
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}
}
