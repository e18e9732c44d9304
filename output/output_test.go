package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GivenSuiteResult_WhenExporting_ThenWritesJSONDocument(t *testing.T) {
	// Given
	pth := filepath.Join(t.TempDir(), "results.json")
	result := models.SuiteResult{}.
		Add(models.TestRecord{Name: "add", Verdict: models.VerdictPass, Stage: "execute"}).
		Add(models.TestRecord{Name: "mul", Verdict: models.VerdictBuildFailed, Stage: "link", ExitCode: 1, Detail: "undefined symbol"}).
		Skip(models.SkipExcludedTest)

	// When
	err := NewExporter(log.NewLogger(), fileutil.NewFileManager()).ExportResults(pth, result)

	// Then
	require.NoError(t, err)

	content, err := os.ReadFile(pth)
	require.NoError(t, err)

	var got Results
	require.NoError(t, json.Unmarshal(content, &got))
	assert.Equal(t, 1, got.Passed)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 1, got.Skipped)
	require.Len(t, got.Tests, 2)
	assert.Equal(t, TestResult{Name: "mul", Verdict: "build_failed", Stage: "link", ExitCode: 1, Detail: "undefined symbol"}, got.Tests[1])
}

func Test_GivenEmptyResult_WhenConverting_ThenTestsIsEmptyList(t *testing.T) {
	content, err := json.Marshal(NewResults(models.SuiteResult{}))

	require.NoError(t, err)
	assert.JSONEq(t, `{"passed": 0, "failed": 0, "skipped": 0, "tests": []}`, string(content))
}
