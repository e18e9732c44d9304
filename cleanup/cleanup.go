package cleanup

import (
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
)

// Manager ...
type Manager interface {
	Cleanup(testCase models.TestCase) error
}

type manager struct {
	logger      log.Logger
	pathChecker pathutil.PathChecker
	fileManager fileutil.FileManager
}

// NewManager ...
func NewManager(logger log.Logger, pathChecker pathutil.PathChecker, fileManager fileutil.FileManager) Manager {
	return manager{
		logger:      logger,
		pathChecker: pathChecker,
		fileManager: fileManager,
	}
}

// Cleanup removes the temp, intermediate, object and output files of the test when its
// cleanup flag is set. Files that are already gone are skipped; every other failure is
// collected and returned once all files were tried.
func (m manager) Cleanup(testCase models.TestCase) error {
	if !testCase.Config.Cleanup {
		return nil
	}

	var errs []error
	for _, pth := range testCase.Artifacts() {
		if exist, err := m.pathChecker.IsPathExists(pth); err != nil {
			errs = append(errs, err)
			continue
		} else if !exist {
			continue
		}

		if err := m.fileManager.Remove(pth); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", pth, err))
			continue
		}
		m.logger.Debugf("Removed %s", pth)
	}

	return errors.Join(errs...)
}
