package report

import (
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
)

// Reporter prints per-test verdicts and the suite summary. Counting happens on the
// SuiteResult value passed in, the Reporter keeps no state of its own.
type Reporter interface {
	Start(testCase models.TestCase)
	Skip(result models.SuiteResult, name string, reason models.SkipReason) models.SuiteResult
	Record(result models.SuiteResult, record models.TestRecord) models.SuiteResult
	Summarize(result models.SuiteResult)
}

type reporter struct {
	out    io.Writer
	logger log.Logger
	color  bool
}

// NewReporter ...
func NewReporter(out io.Writer, logger log.Logger, color bool) Reporter {
	return reporter{
		out:    out,
		logger: logger,
		color:  color,
	}
}

func (r reporter) Start(testCase models.TestCase) {
	r.printf("Testing %s:\n", testCase.SourcePath)
}

func (r reporter) Skip(result models.SuiteResult, name string, reason models.SkipReason) models.SuiteResult {
	switch reason {
	case models.SkipUnknownTest:
		r.logger.Warnf("Encountered a test that is not defined in the settings file! Test name: %s. Skipping...", name)
	case models.SkipExcludedTest:
		r.logger.Warnf("Test %s was set to be excluded in the settings. Skipping...", name)
	}
	return result.Skip(reason)
}

func (r reporter) Record(result models.SuiteResult, record models.TestRecord) models.SuiteResult {
	r.printf(" %s\n", r.marker(record))
	if record.Detail != "" && !record.Verdict.Passed() {
		r.logger.Printf("%s", record.Detail)
	}
	return result.Add(record)
}

func (r reporter) marker(record models.TestRecord) string {
	switch record.Verdict {
	case models.VerdictPass:
		return r.paint(colorstring.Green, "Passed")
	case models.VerdictFail:
		return r.paint(colorstring.Red, "Failed")
	case models.VerdictBuildFailed:
		return r.paint(colorstring.Red, fmt.Sprintf("Build failed (%s, exit %d)", record.Stage, record.ExitCode))
	case models.VerdictTimeout:
		return r.paint(colorstring.Red, fmt.Sprintf("Timed out (%s)", record.Stage))
	default:
		return r.paint(colorstring.Yellow, "Fixture error")
	}
}

func (r reporter) Summarize(result models.SuiteResult) {
	r.printf("Results:\n")
	r.printf(" %s, %s\n",
		r.paint(colorstring.Green, fmt.Sprintf("%d tests passed", result.Passed)),
		r.paint(colorstring.Red, fmt.Sprintf("%d tests failed", result.Failed)))

	if result.BuildFailures+result.Timeouts+result.FixtureErrors > 0 {
		r.printf(" failed: %d mismatched, %d build failures, %d timeouts, %d fixture errors\n",
			result.Mismatches, result.BuildFailures, result.Timeouts, result.FixtureErrors)
	}
	if result.Skipped() > 0 {
		r.printf(" %s\n", r.paint(colorstring.Yellow, fmt.Sprintf("%d tests skipped (%d excluded, %d not defined)",
			result.Skipped(), result.SkippedExcluded, result.SkippedUnknown)))
	}
}

func (r reporter) paint(color func(a ...interface{}) string, s string) string {
	if !r.color {
		return s
	}
	return color(s)
}

func (r reporter) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(r.out, format, args...); err != nil {
		r.logger.Warnf("Failed to write report: %s", err)
	}
}
