package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/errorutil"
	"github.com/bitrise-io/go-utils/progress"
	"github.com/bitrise-io/go-utils/stringutil"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/bitrise-steplib/steps-toolchain-test/toolchain"
)

// ErrMissingArtifact is reported when a build stage exited successfully but did not produce its file.
var ErrMissingArtifact = errors.New("build stage produced no artifact")

const failedStageLogLines = 20

// Stage ...
type Stage string

// Stages ...
const (
	StageCompile  Stage = "compile"
	StageAssemble Stage = "assemble"
	StageLink     Stage = "link"
	StageExecute  Stage = "execute"
)

// Status ...
type Status int

// Statuses ...
const (
	StatusCompleted Status = iota
	StatusPipelineFailure
	StatusTimeout
)

// Outcome describes how far a test got. TempPath is set for StatusCompleted, Stage and ExitCode
// name the stage that stopped the pipeline otherwise.
type Outcome struct {
	Status   Status
	Stage    Stage
	ExitCode int
	TempPath string
	Log      []byte
	Err      error
}

// Tools ...
type Tools struct {
	Compiler         string
	Assembler        string
	ObjectFormat     string
	AssemblerOptions []string
	Linker           string
	LinkerOptions    []string
}

// Runner ...
type Runner interface {
	Run(testCase models.TestCase) Outcome
}

type runner struct {
	logger         log.Logger
	commandFactory command.Factory
	pathChecker    pathutil.PathChecker
	fileManager    fileutil.FileManager
	tools          Tools
}

// NewRunner ...
func NewRunner(logger log.Logger, commandFactory command.Factory, pathChecker pathutil.PathChecker, fileManager fileutil.FileManager, tools Tools) Runner {
	return runner{
		logger:         logger,
		commandFactory: commandFactory,
		pathChecker:    pathChecker,
		fileManager:    fileManager,
		tools:          tools,
	}
}

// Run builds and executes one test. Stages run strictly one after the other; the first failing
// build stage ends the run.
func (r runner) Run(testCase models.TestCase) Outcome {
	buildStages := []struct {
		stage    Stage
		tool     string
		args     []string
		artifact string
	}{
		{
			stage:    StageCompile,
			tool:     r.tools.Compiler,
			args:     CompileArgs(testCase),
			artifact: testCase.IntermediatePath,
		},
		{
			stage:    StageAssemble,
			tool:     r.tools.Assembler,
			args:     AssembleArgs(testCase, r.tools.ObjectFormat, r.tools.AssemblerOptions),
			artifact: testCase.ObjectPath,
		},
		{
			stage:    StageLink,
			tool:     r.tools.Linker,
			args:     LinkArgs(testCase, r.tools.LinkerOptions),
			artifact: testCase.OutputPath,
		},
	}

	for _, s := range buildStages {
		if outcome, ok := r.build(s.stage, s.tool, s.args, s.artifact); !ok {
			return outcome
		}
	}

	return r.execute(testCase)
}

func (r runner) build(stage Stage, tool string, args []string, artifact string) (Outcome, bool) {
	// An artifact left over from an earlier run must not pass for this stage's output.
	if err := r.removeStale(artifact); err != nil {
		return r.failure(stage, -1, nil, err), false
	}

	var out bytes.Buffer
	cmd := r.commandFactory.Create(tool, args, &command.Opts{
		Stdout: &out,
		Stderr: &out,
	})

	r.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	var (
		exitCode int
		err      error
	)
	progress.SimpleProgress(".", time.Minute, func() {
		exitCode, err = cmd.RunAndReturnExitCode()
	})

	if out.Len() > 0 {
		r.logger.Debugf("%s output:\n%s", stage, out.String())
	}

	if err != nil {
		return r.failure(stage, exitCode, out.Bytes(), err), false
	}

	if exist, err := r.pathChecker.IsPathExists(artifact); err != nil {
		return r.failure(stage, exitCode, out.Bytes(), fmt.Errorf("failed to check %s: %w", artifact, err)), false
	} else if !exist {
		return r.failure(stage, exitCode, out.Bytes(), fmt.Errorf("%w: %s", ErrMissingArtifact, artifact)), false
	}

	return Outcome{}, true
}

func (r runner) removeStale(artifact string) error {
	exist, err := r.pathChecker.IsPathExists(artifact)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", artifact, err)
	}
	if !exist {
		return nil
	}

	if err := r.fileManager.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale %s: %w", artifact, err)
	}
	r.logger.Debugf("Removed stale %s", artifact)
	return nil
}

func (r runner) execute(testCase models.TestCase) Outcome {
	tempFile, err := os.Create(testCase.TempPath)
	if err != nil {
		return Outcome{
			Status:   StatusPipelineFailure,
			Stage:    StageExecute,
			ExitCode: -1,
			Err:      fmt.Errorf("failed to create temp file: %w", err),
		}
	}

	cmd := r.commandFactory.Create(testCase.OutputPath, testCase.Config.Args, &command.Opts{
		Stdout: tempFile,
		Stderr: io.Discard,
	})

	r.logger.Debugf("$ %s > %s", cmd.PrintableCommandArgs(), testCase.TempPath)

	var exitCode int
	progress.SimpleProgress(".", time.Minute, func() {
		exitCode, err = cmd.RunAndReturnExitCode()
	})

	if closeErr := tempFile.Close(); closeErr != nil && err == nil {
		return Outcome{
			Status:   StatusPipelineFailure,
			Stage:    StageExecute,
			ExitCode: exitCode,
			Err:      fmt.Errorf("failed to close temp file: %w", closeErr),
		}
	}

	// The program's own exit status is not judged, only its output is.
	if err != nil {
		if toolchain.IsTimeout(err) || !errorutil.IsExitStatusError(err) {
			return r.failure(StageExecute, exitCode, nil, err)
		}
		r.logger.Debugf("%s exited with code %d", testCase.OutputPath, exitCode)
	}

	return Outcome{
		Status:   StatusCompleted,
		Stage:    StageExecute,
		ExitCode: exitCode,
		TempPath: testCase.TempPath,
	}
}

func (r runner) failure(stage Stage, exitCode int, out []byte, err error) Outcome {
	status := StatusPipelineFailure
	if toolchain.IsTimeout(err) {
		status = StatusTimeout
		r.logger.Warnf("%s stage timed out", stage)
	} else {
		r.logger.Warnf("%s stage failed (exit code %d): %s", stage, exitCode, err)
	}

	if len(out) > 0 {
		r.logger.Printf("Last lines of the %s log:", stage)
		r.logger.Printf("%s", stringutil.LastNLines(string(out), failedStageLogLines))
	}

	return Outcome{
		Status:   status,
		Stage:    stage,
		ExitCode: exitCode,
		Log:      out,
		Err:      err,
	}
}

// CompileArgs ...
func CompileArgs(testCase models.TestCase) []string {
	return []string{"-o", testCase.IntermediatePath, testCase.SourcePath}
}

// AssembleArgs ...
func AssembleArgs(testCase models.TestCase, objectFormat string, options []string) []string {
	args := []string{"-f" + objectFormat}
	args = append(args, options...)
	return append(args, testCase.IntermediatePath)
}

// LinkArgs ...
func LinkArgs(testCase models.TestCase, options []string) []string {
	args := []string{"-o", testCase.OutputPath}
	args = append(args, options...)
	return append(args, testCase.ObjectPath)
}
