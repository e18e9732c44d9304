package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/cleanup"
	"github.com/bitrise-steplib/steps-toolchain-test/comparator"
	"github.com/bitrise-steplib/steps-toolchain-test/discovery"
	"github.com/bitrise-steplib/steps-toolchain-test/output"
	"github.com/bitrise-steplib/steps-toolchain-test/pipeline"
	"github.com/bitrise-steplib/steps-toolchain-test/report"
	"github.com/bitrise-steplib/steps-toolchain-test/settings"
	"github.com/bitrise-steplib/steps-toolchain-test/step"
	"github.com/bitrise-steplib/steps-toolchain-test/toolchain"
	"golang.org/x/term"
)

const (
	exitCodeConfigError = 1
	exitCodeInterrupted = 130
	settingsFlagUsage   = "path of the settings document (.json, .yaml or .yml)"
	commandName         = "toolchain-test"
	commandDescription  = "Builds, runs and checks every test program of the working directory."
	versionCheckTimeout = 30 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(commandName, flag.ContinueOnError)
	flags.SetOutput(stderr)
	settingsPath := flags.String("settings", "", settingsFlagUsage)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s --settings <path>\n\n%s\n\n", commandName, commandDescription)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitCodeConfigError
	}

	logger := log.NewLogger()
	envRepository := env.NewRepository()
	pathChecker := pathutil.NewPathChecker()
	fileManager := fileutil.NewFileManager()

	configParser := step.NewConfigParser(
		stepconf.NewInputParser(envRepository),
		logger,
		settings.NewLoader(pathChecker, fileManager),
		toolchain.NewVersionProber(logger, toolchain.NewFactory(context.Background(), envRepository, versionCheckTimeout)),
	)

	cfg, err := configParser.ProcessConfig(*settingsPath)
	if err != nil {
		logger.Errorf("%s", err)
		flags.Usage()
		return exitCodeConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := createRunner(ctx, cfg, logger, envRepository, stdout)
	result, err := runner.Run(ctx, cfg)
	runner.Export(cfg, result)

	if err != nil {
		if ctx.Err() != nil {
			logger.Warnf("Interrupted")
			return exitCodeInterrupted
		}
		logger.Errorf("Failed to run tests: %s", err)
		return exitCodeConfigError
	}

	return step.ExitCode(cfg, result)
}

func createRunner(ctx context.Context, cfg step.Config, logger log.Logger, envRepository env.Repository, stdout io.Writer) step.ToolchainTestRunner {
	pathChecker := pathutil.NewPathChecker()
	fileManager := fileutil.NewFileManager()
	commandFactory := toolchain.NewFactory(ctx, envRepository, cfg.StageTimeout)
	color := !cfg.NoColor && isTerminal(stdout)

	return step.NewToolchainTestRunner(
		logger,
		discovery.NewScanner(fileManager, pathutil.NewPathModifier(), cfg.SortTests),
		pipeline.NewRunner(logger, commandFactory, pathChecker, fileManager, cfg.Tools),
		comparator.NewComparator(pathChecker, fileManager),
		cleanup.NewManager(logger, pathChecker, fileManager),
		report.NewReporter(stdout, logger, color),
		output.NewExporter(logger, fileManager),
		pathChecker,
	)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
