package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/cleanup"
	"github.com/bitrise-steplib/steps-toolchain-test/comparator"
	"github.com/bitrise-steplib/steps-toolchain-test/discovery"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/bitrise-steplib/steps-toolchain-test/output"
	"github.com/bitrise-steplib/steps-toolchain-test/pipeline"
	"github.com/bitrise-steplib/steps-toolchain-test/report"
	"github.com/bitrise-steplib/steps-toolchain-test/settings"
	"github.com/bitrise-steplib/steps-toolchain-test/toolchain"
	"github.com/hashicorp/go-version"
	shellquote "github.com/kballard/go-shellquote"
)

// Tool defaults ...
const (
	DefaultWorkDir      = "."
	DefaultAssembler    = "nasm"
	DefaultObjectFormat = "elf64"
	DefaultLinker       = "ld"
)

// Input ...
type Input struct {
	WorkDir string `env:"work_dir"`

	// Toolchain
	Assembler        string `env:"assembler"`
	ObjectFormat     string `env:"object_format"`
	AssemblerOptions string `env:"assembler_options"`
	Linker           string `env:"linker"`
	LinkerOptions    string `env:"linker_options"`

	MinAssemblerVersion string `env:"min_assembler_version"`

	// Run
	StageTimeout      int  `env:"stage_timeout"`
	SortTests         bool `env:"sort_tests"`
	FailOnTestFailure bool `env:"fail_on_test_failure"`

	// Output
	ReportPath string `env:"report_path"`
	ShowDiff   bool   `env:"show_diff"`
	NoColor    bool   `env:"no_color"`

	// Debug
	Verbose bool `env:"verbose"`
}

// Config ...
type Config struct {
	SettingsPath string
	Suite        settings.SuiteConfig

	WorkDir      string
	Tools        pipeline.Tools
	StageTimeout time.Duration

	SortTests         bool
	FailOnTestFailure bool

	ReportPath string
	ShowDiff   bool
	NoColor    bool
}

// ConfigParser ...
type ConfigParser struct {
	inputParser    stepconf.InputParser
	logger         log.Logger
	settingsLoader settings.Loader
	versionProber  toolchain.VersionProber
}

// NewConfigParser ...
func NewConfigParser(inputParser stepconf.InputParser, logger log.Logger, settingsLoader settings.Loader, versionProber toolchain.VersionProber) ConfigParser {
	return ConfigParser{
		inputParser:    inputParser,
		logger:         logger,
		settingsLoader: settingsLoader,
		versionProber:  versionProber,
	}
}

// ProcessConfig loads the settings document and the runner inputs. Every returned error is a *settings.ConfigError.
func (p ConfigParser) ProcessConfig(settingsPath string) (Config, error) {
	suite, err := p.settingsLoader.Load(settingsPath)
	if err != nil {
		return Config{}, err
	}

	var input Input
	if err := p.inputParser.Parse(&input); err != nil {
		return Config{}, &settings.ConfigError{Err: fmt.Errorf("invalid inputs: %w", err)}
	}

	stepconf.Print(input)
	p.logger.Println()

	p.logger.EnableDebugLog(input.Verbose)

	assemblerOptions, err := shellquote.Split(input.AssemblerOptions)
	if err != nil {
		return Config{}, &settings.ConfigError{Err: fmt.Errorf("invalid assembler_options (%s): %w", input.AssemblerOptions, err)}
	}
	linkerOptions, err := shellquote.Split(input.LinkerOptions)
	if err != nil {
		return Config{}, &settings.ConfigError{Err: fmt.Errorf("invalid linker_options (%s): %w", input.LinkerOptions, err)}
	}

	if input.StageTimeout < 0 {
		return Config{}, &settings.ConfigError{Err: fmt.Errorf("invalid stage_timeout (%d), should not be negative", input.StageTimeout)}
	}

	tools := pipeline.Tools{
		Compiler:         suite.ToolchainPath,
		Assembler:        valueOrDefault(input.Assembler, DefaultAssembler),
		ObjectFormat:     valueOrDefault(input.ObjectFormat, DefaultObjectFormat),
		AssemblerOptions: assemblerOptions,
		Linker:           valueOrDefault(input.Linker, DefaultLinker),
		LinkerOptions:    linkerOptions,
	}

	var assemblerVersion *version.Version
	if input.MinAssemblerVersion != "" {
		assemblerVersion, err = toolchain.CheckMinimum(p.versionProber, tools.Assembler, input.MinAssemblerVersion)
		if err != nil {
			return Config{}, &settings.ConfigError{Err: err}
		}
	}

	p.logger.Infof("Toolchain:")
	p.logger.Printf("- compiler: %s", tools.Compiler)
	if assemblerVersion != nil {
		p.logger.Printf("- %s version: %s", tools.Assembler, assemblerVersion)
	}
	p.logger.Printf("- defined tests: %d", len(suite.Tests))
	p.logger.Println()

	return Config{
		SettingsPath: settingsPath,
		Suite:        suite,

		WorkDir:      valueOrDefault(input.WorkDir, DefaultWorkDir),
		Tools:        tools,
		StageTimeout: time.Duration(input.StageTimeout) * time.Second,

		SortTests:         input.SortTests,
		FailOnTestFailure: input.FailOnTestFailure,

		ReportPath: input.ReportPath,
		ShowDiff:   input.ShowDiff,
		NoColor:    input.NoColor,
	}, nil
}

// ToolchainTestRunner ...
type ToolchainTestRunner struct {
	logger         log.Logger
	scanner        discovery.Scanner
	pipelineRunner pipeline.Runner
	comparator     comparator.Comparator
	cleanupManager cleanup.Manager
	reporter       report.Reporter
	outputExporter output.Exporter
	pathChecker    pathutil.PathChecker
}

// NewToolchainTestRunner ...
func NewToolchainTestRunner(logger log.Logger, scanner discovery.Scanner, pipelineRunner pipeline.Runner, comparator comparator.Comparator, cleanupManager cleanup.Manager, reporter report.Reporter, outputExporter output.Exporter, pathChecker pathutil.PathChecker) ToolchainTestRunner {
	return ToolchainTestRunner{
		logger:         logger,
		scanner:        scanner,
		pipelineRunner: pipelineRunner,
		comparator:     comparator,
		cleanupManager: cleanupManager,
		reporter:       reporter,
		outputExporter: outputExporter,
		pathChecker:    pathChecker,
	}
}

// Run judges every discovered test one after the other and prints the summary, also when the
// run stopped early. A directory read failure or ctx cancellation ends the run with an error.
func (s ToolchainTestRunner) Run(ctx context.Context, cfg Config) (models.SuiteResult, error) {
	result, err := s.runSuite(ctx, cfg)
	s.reporter.Summarize(result)
	return result, err
}

func (s ToolchainTestRunner) runSuite(ctx context.Context, cfg Config) (models.SuiteResult, error) {
	var result models.SuiteResult

	s.logger.Println()
	s.logger.Infof("Running tests in %s", cfg.WorkDir)

	for candidate, err := range s.scanner.Scan(cfg.WorkDir, cfg.Suite) {
		if err != nil {
			return result, err
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if candidate.Skip != models.NotSkipped {
			result = s.reporter.Skip(result, candidate.Name, candidate.Skip)
			continue
		}

		testCase := candidate.Case
		s.reporter.Start(testCase)

		record := s.judge(cfg, testCase)
		if ctx.Err() != nil {
			s.logger.Warnf("Test %s was interrupted", testCase.Name)
			s.cleanup(testCase)
			return result, ctx.Err()
		}

		result = s.reporter.Record(result, record)
		s.cleanup(testCase)
	}

	return result, nil
}

func (s ToolchainTestRunner) judge(cfg Config, testCase models.TestCase) models.TestRecord {
	record := models.TestRecord{Name: testCase.Name}

	if exist, err := s.pathChecker.IsPathExists(testCase.ExpectedPath); err != nil || !exist {
		record.Verdict = models.VerdictFixtureError
		record.Detail = fmt.Sprintf("%s: %s", comparator.ErrMissingFixture, testCase.ExpectedPath)
		if err != nil {
			record.Detail = fmt.Sprintf("failed to check %s: %s", testCase.ExpectedPath, err)
		}
		return record
	}

	outcome := s.pipelineRunner.Run(testCase)
	record.Stage = string(outcome.Stage)
	record.ExitCode = outcome.ExitCode

	switch outcome.Status {
	case pipeline.StatusTimeout:
		record.Verdict = models.VerdictTimeout
		record.Detail = fmt.Sprintf("%s stage exceeded %s", outcome.Stage, cfg.StageTimeout)
		return record
	case pipeline.StatusPipelineFailure:
		record.Verdict = models.VerdictBuildFailed
		if outcome.Err != nil {
			record.Detail = outcome.Err.Error()
		}
		return record
	}

	equal, err := s.comparator.Compare(testCase.ExpectedPath, outcome.TempPath)
	switch {
	case errors.Is(err, comparator.ErrMissingFixture):
		record.Verdict = models.VerdictFixtureError
		record.Detail = err.Error()
	case err != nil:
		s.logger.Warnf("Failed to compare the output of %s: %s", testCase.Name, err)
		record.Verdict = models.VerdictFail
		record.Detail = err.Error()
	case equal:
		record.Verdict = models.VerdictPass
	default:
		record.Verdict = models.VerdictFail
		if cfg.ShowDiff {
			record.Detail = s.diff(testCase.ExpectedPath, outcome.TempPath)
		}
	}

	return record
}

func (s ToolchainTestRunner) diff(expectedPath, actualPath string) string {
	diff, err := s.comparator.Diff(expectedPath, actualPath)
	if err != nil {
		s.logger.Warnf("Failed to diff %s: %s", actualPath, err)
		return ""
	}
	return fmt.Sprintf("output mismatch (-expected +actual):\n%s", diff)
}

func (s ToolchainTestRunner) cleanup(testCase models.TestCase) {
	if err := s.cleanupManager.Cleanup(testCase); err != nil {
		s.logger.Warnf("Failed to clean up after %s: %s", testCase.Name, err)
	}
}

// Export writes the optional results document, failures are only reported.
func (s ToolchainTestRunner) Export(cfg Config, result models.SuiteResult) {
	if cfg.ReportPath == "" {
		return
	}

	s.logger.Println()
	if err := s.outputExporter.ExportResults(cfg.ReportPath, result); err != nil {
		s.logger.Warnf("Failed to export results: %s", err)
	}
}

// ExitCode ...
func ExitCode(cfg Config, result models.SuiteResult) int {
	if cfg.FailOnTestFailure && result.Failed > 0 {
		return 1
	}
	return 0
}

func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
