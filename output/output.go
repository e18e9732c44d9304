package output

import (
	"encoding/json"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
)

// Exporter ...
type Exporter interface {
	ExportResults(pth string, result models.SuiteResult) error
}

type exporter struct {
	logger      log.Logger
	fileManager fileutil.FileManager
}

// NewExporter ...
func NewExporter(logger log.Logger, fileManager fileutil.FileManager) Exporter {
	return &exporter{
		logger:      logger,
		fileManager: fileManager,
	}
}

// Results is the JSON document written by ExportResults.
type Results struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
	Tests   []TestResult `json:"tests"`
}

// TestResult ...
type TestResult struct {
	Name     string `json:"name"`
	Verdict  string `json:"verdict"`
	Stage    string `json:"stage,omitempty"`
	ExitCode int    `json:"exit_code"`
	Detail   string `json:"detail,omitempty"`
}

// NewResults ...
func NewResults(result models.SuiteResult) Results {
	tests := make([]TestResult, 0, len(result.Records))
	for _, record := range result.Records {
		tests = append(tests, TestResult{
			Name:     record.Name,
			Verdict:  record.Verdict.String(),
			Stage:    record.Stage,
			ExitCode: record.ExitCode,
			Detail:   record.Detail,
		})
	}

	return Results{
		Passed:  result.Passed,
		Failed:  result.Failed,
		Skipped: result.Skipped(),
		Tests:   tests,
	}
}

func (e exporter) ExportResults(pth string, result models.SuiteResult) error {
	content, err := json.MarshalIndent(NewResults(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if err := e.fileManager.Write(pth, string(content)+"\n", 0644); err != nil {
		return fmt.Errorf("failed to write results to %s: %w", pth, err)
	}

	e.logger.Donef("Results are available at: %s", pth)
	return nil
}
