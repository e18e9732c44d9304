package pipeline

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/bitrise-steplib/steps-toolchain-test/pipeline/mocks"
	"github.com/bitrise-steplib/steps-toolchain-test/settings"
	"github.com/bitrise-steplib/steps-toolchain-test/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var tools = Tools{
	Compiler:     "/opt/hive/hivec",
	Assembler:    "nasm",
	ObjectFormat: "elf64",
	Linker:       "ld",
}

func Test_GivenWorkingToolchain_WhenRunning_ThenInvokesStagesInOrderAndCapturesOutput(t *testing.T) {
	// Given
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)

	expectStage(t, factory, tools.Compiler, []string{"-o", testCase.IntermediatePath, testCase.SourcePath}, testCase.IntermediatePath, 0, nil)
	expectStage(t, factory, tools.Assembler, []string{"-felf64", testCase.IntermediatePath}, testCase.ObjectPath, 0, nil)
	expectStage(t, factory, tools.Linker, []string{"-o", testCase.OutputPath, testCase.ObjectPath}, testCase.OutputPath, 0, nil)
	expectExecute(t, factory, testCase, "7\n", 0, nil)

	// When
	outcome := newRunner(factory).Run(testCase)

	// Then
	require.NoError(t, outcome.Err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, testCase.TempPath, outcome.TempPath)

	content, err := os.ReadFile(testCase.TempPath)
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(content))
}

func Test_GivenExtraOptions_WhenRunning_ThenInsertsThemBeforeInputs(t *testing.T) {
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	withOptions := tools
	withOptions.AssemblerOptions = []string{"-g"}
	withOptions.LinkerOptions = []string{"-static"}

	expectStage(t, factory, tools.Compiler, []string{"-o", testCase.IntermediatePath, testCase.SourcePath}, testCase.IntermediatePath, 0, nil)
	expectStage(t, factory, tools.Assembler, []string{"-felf64", "-g", testCase.IntermediatePath}, testCase.ObjectPath, 0, nil)
	expectStage(t, factory, tools.Linker, []string{"-o", testCase.OutputPath, "-static", testCase.ObjectPath}, testCase.OutputPath, 0, nil)
	expectExecute(t, factory, testCase, "", 0, nil)

	outcome := NewRunner(log.NewLogger(), factory, pathutil.NewPathChecker(), fileutil.NewFileManager(), withOptions).Run(testCase)

	assert.Equal(t, StatusCompleted, outcome.Status)
}

func Test_GivenCompilerFails_WhenRunning_ThenStopsWithPipelineFailure(t *testing.T) {
	// Given
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectStage(t, factory, tools.Compiler, mock.Anything, "", 2, exitError(t, 2))

	// When
	outcome := newRunner(factory).Run(testCase)

	// Then
	assert.Equal(t, StatusPipelineFailure, outcome.Status)
	assert.Equal(t, StageCompile, outcome.Stage)
	assert.Equal(t, 2, outcome.ExitCode)
	factory.AssertNumberOfCalls(t, "Create", 1)
}

func Test_GivenAssemblerLeavesNoObject_WhenRunning_ThenReportsMissingArtifact(t *testing.T) {
	// Given
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectStage(t, factory, tools.Compiler, mock.Anything, testCase.IntermediatePath, 0, nil)
	expectStage(t, factory, tools.Assembler, mock.Anything, "", 0, nil)

	// When
	outcome := newRunner(factory).Run(testCase)

	// Then
	assert.Equal(t, StatusPipelineFailure, outcome.Status)
	assert.Equal(t, StageAssemble, outcome.Stage)
	assert.True(t, errors.Is(outcome.Err, ErrMissingArtifact))
}

func Test_GivenStaleArtifacts_WhenCompilerWritesNothing_ThenReportsMissingArtifact(t *testing.T) {
	// Given
	testCase := newTestCase(t)
	for _, pth := range []string{testCase.IntermediatePath, testCase.ObjectPath, testCase.OutputPath} {
		require.NoError(t, os.WriteFile(pth, []byte("previous run"), 0700))
	}
	factory := mocks.NewFactory(t)
	expectStage(t, factory, tools.Compiler, mock.Anything, "", 0, nil)

	// When
	outcome := newRunner(factory).Run(testCase)

	// Then
	assert.Equal(t, StatusPipelineFailure, outcome.Status)
	assert.Equal(t, StageCompile, outcome.Stage)
	assert.True(t, errors.Is(outcome.Err, ErrMissingArtifact))
	assert.NoFileExists(t, testCase.IntermediatePath)
	factory.AssertNumberOfCalls(t, "Create", 1)
}

func Test_GivenLinkerHangs_WhenDeadlinePasses_ThenReportsTimeout(t *testing.T) {
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectStage(t, factory, tools.Compiler, mock.Anything, testCase.IntermediatePath, 0, nil)
	expectStage(t, factory, tools.Assembler, mock.Anything, testCase.ObjectPath, 0, nil)
	expectStage(t, factory, tools.Linker, mock.Anything, "", -1, fmt.Errorf("ld: %w", toolchain.ErrTimeout))

	outcome := newRunner(factory).Run(testCase)

	assert.Equal(t, StatusTimeout, outcome.Status)
	assert.Equal(t, StageLink, outcome.Stage)
}

func Test_GivenProgramExitsNonZero_WhenRunning_ThenStillCompletes(t *testing.T) {
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectBuild(t, factory, testCase)
	expectExecute(t, factory, testCase, "partial\n", 1, exitError(t, 1))

	outcome := newRunner(factory).Run(testCase)

	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 1, outcome.ExitCode)
}

func Test_GivenProgramCanNotStart_WhenRunning_ThenReportsExecuteFailure(t *testing.T) {
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectBuild(t, factory, testCase)
	expectExecute(t, factory, testCase, "", -1, errors.New("failed to start: exec format error"))

	outcome := newRunner(factory).Run(testCase)

	assert.Equal(t, StatusPipelineFailure, outcome.Status)
	assert.Equal(t, StageExecute, outcome.Stage)
}

func Test_GivenProgramHangs_WhenDeadlinePasses_ThenReportsTimeout(t *testing.T) {
	testCase := newTestCase(t)
	factory := mocks.NewFactory(t)
	expectBuild(t, factory, testCase)
	expectExecute(t, factory, testCase, "", -1, fmt.Errorf("add.out: %w", toolchain.ErrTimeout))

	outcome := newRunner(factory).Run(testCase)

	assert.Equal(t, StatusTimeout, outcome.Status)
	assert.Equal(t, StageExecute, outcome.Stage)
}

func newRunner(factory command.Factory) Runner {
	return NewRunner(log.NewLogger(), factory, pathutil.NewPathChecker(), fileutil.NewFileManager(), tools)
}

func newTestCase(t *testing.T) models.TestCase {
	extensions := settings.Extensions{Source: ".hive", Intermediate: ".asm", Expected: ".expected"}
	return models.NewTestCase(t.TempDir(), "add", extensions, settings.TestConfig{Name: "add", Args: []string{"3", "4"}})
}

func expectBuild(t *testing.T, factory *mocks.Factory, testCase models.TestCase) {
	expectStage(t, factory, tools.Compiler, mock.Anything, testCase.IntermediatePath, 0, nil)
	expectStage(t, factory, tools.Assembler, mock.Anything, testCase.ObjectPath, 0, nil)
	expectStage(t, factory, tools.Linker, mock.Anything, testCase.OutputPath, 0, nil)
}

// expectStage registers a build tool invocation that leaves artifact behind, when not empty.
func expectStage(t *testing.T, factory *mocks.Factory, tool string, args interface{}, artifact string, exitCode int, err error) {
	cmd := mocks.NewCommand(t)
	cmd.On("PrintableCommandArgs").Return(tool).Maybe()
	cmd.On("RunAndReturnExitCode").Return(exitCode, err)

	factory.On("Create", tool, args, mock.Anything).Return(cmd).Once().Run(func(mock.Arguments) {
		if artifact != "" {
			require.NoError(t, os.WriteFile(artifact, []byte(tool), 0700))
		}
	})
}

// expectExecute registers the built program's invocation, which prints stdout.
func expectExecute(t *testing.T, factory *mocks.Factory, testCase models.TestCase, stdout string, exitCode int, err error) {
	cmd := mocks.NewCommand(t)
	cmd.On("PrintableCommandArgs").Return(testCase.OutputPath).Maybe()
	cmd.On("RunAndReturnExitCode").Return(exitCode, err)

	factory.On("Create", testCase.OutputPath, testCase.Config.Args, mock.Anything).Return(cmd).Once().Run(func(args mock.Arguments) {
		opts := args.Get(2).(*command.Opts)
		_, writeErr := fmt.Fprint(opts.Stdout, stdout)
		require.NoError(t, writeErr)
	})
}

// exitError returns the error of a process that really exited with code.
func exitError(t *testing.T, code int) error {
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	return err
}
