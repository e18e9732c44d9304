package models

import (
	"path/filepath"

	"github.com/bitrise-steplib/steps-toolchain-test/settings"
)

//=======================================
// Test case
//=======================================

// TestCase holds the artifact paths of one discovered test. Every path is derived from
// the test name and the configured suffixes.
type TestCase struct {
	Name   string
	Config settings.TestConfig

	SourcePath       string
	IntermediatePath string
	ObjectPath       string
	OutputPath       string
	ExpectedPath     string
	TempPath         string
}

// NewTestCase ...
func NewTestCase(dir, name string, extensions settings.Extensions, config settings.TestConfig) TestCase {
	base := filepath.Join(dir, name)

	return TestCase{
		Name:   name,
		Config: config,

		SourcePath:       base + extensions.Source,
		IntermediatePath: base + extensions.Intermediate,
		ObjectPath:       base + settings.ObjectExtension,
		OutputPath:       base + settings.OutputExtension,
		ExpectedPath:     base + extensions.Expected,
		TempPath:         base + settings.TempExtension,
	}
}

// Artifacts returns the files the pipeline creates for the test.
func (c TestCase) Artifacts() []string {
	return []string{c.TempPath, c.IntermediatePath, c.ObjectPath, c.OutputPath}
}

//=======================================
// Verdicts
//=======================================

// Verdict ...
type Verdict int

// Verdicts ...
const (
	VerdictPass Verdict = iota
	VerdictFail
	VerdictBuildFailed
	VerdictTimeout
	VerdictFixtureError
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	case VerdictBuildFailed:
		return "build_failed"
	case VerdictTimeout:
		return "timeout"
	case VerdictFixtureError:
		return "fixture_error"
	default:
		return "unknown"
	}
}

// Passed ...
func (v Verdict) Passed() bool {
	return v == VerdictPass
}

// SkipReason ...
type SkipReason int

// Skip reasons ...
const (
	NotSkipped SkipReason = iota
	SkipUnknownTest
	SkipExcludedTest
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "not_skipped"
	case SkipUnknownTest:
		return "unknown_test"
	case SkipExcludedTest:
		return "excluded_test"
	default:
		return "unknown"
	}
}

// TestRecord is the judged outcome of one test.
type TestRecord struct {
	Name     string
	Verdict  Verdict
	Stage    string
	ExitCode int
	Detail   string
}

//=======================================
// Suite result
//=======================================

// SuiteResult counts outcomes. Every non-passing verdict counts into Failed, the
// remaining counters break Failed down.
type SuiteResult struct {
	Passed int
	Failed int

	Mismatches    int
	BuildFailures int
	Timeouts      int
	FixtureErrors int

	SkippedUnknown  int
	SkippedExcluded int

	Records []TestRecord
}

// Add returns a copy of r with the record counted.
func (r SuiteResult) Add(record TestRecord) SuiteResult {
	switch record.Verdict {
	case VerdictPass:
		r.Passed++
	case VerdictFail:
		r.Failed++
		r.Mismatches++
	case VerdictBuildFailed:
		r.Failed++
		r.BuildFailures++
	case VerdictTimeout:
		r.Failed++
		r.Timeouts++
	case VerdictFixtureError:
		r.Failed++
		r.FixtureErrors++
	default:
		r.Failed++
	}

	records := make([]TestRecord, len(r.Records), len(r.Records)+1)
	copy(records, r.Records)
	r.Records = append(records, record)

	return r
}

// Skip returns a copy of r with the skip counted.
func (r SuiteResult) Skip(reason SkipReason) SuiteResult {
	switch reason {
	case SkipUnknownTest:
		r.SkippedUnknown++
	case SkipExcludedTest:
		r.SkippedExcluded++
	}
	return r
}

// Skipped ...
func (r SuiteResult) Skipped() int {
	return r.SkippedUnknown + r.SkippedExcluded
}

// Judged is the number of tests with a verdict.
func (r SuiteResult) Judged() int {
	return r.Passed + r.Failed
}
