package comparator

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/google/go-cmp/cmp"
)

// ErrMissingFixture means the expected-output file of a test does not exist.
var ErrMissingFixture = errors.New("expected output file does not exist")

const (
	chunkSize = 32 * 1024
	// diffLimit caps how much of each file Diff loads.
	diffLimit = 64 * 1024
)

// Comparator ...
type Comparator interface {
	Compare(expectedPath, actualPath string) (bool, error)
	Diff(expectedPath, actualPath string) (string, error)
}

type comparator struct {
	pathChecker pathutil.PathChecker
	fileManager fileutil.FileManager
}

// NewComparator ...
func NewComparator(pathChecker pathutil.PathChecker, fileManager fileutil.FileManager) Comparator {
	return comparator{
		pathChecker: pathChecker,
		fileManager: fileManager,
	}
}

// Compare reports whether both files hold exactly the same bytes. A missing expected file
// is ErrMissingFixture, not a mismatch.
func (c comparator) Compare(expectedPath, actualPath string) (bool, error) {
	if exist, err := c.pathChecker.IsPathExists(expectedPath); err != nil {
		return false, err
	} else if !exist {
		return false, fmt.Errorf("%w: %s", ErrMissingFixture, expectedPath)
	}

	expected, err := c.fileManager.Open(expectedPath)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = expected.Close()
	}()

	actual, err := c.fileManager.Open(actualPath)
	if err != nil {
		return false, fmt.Errorf("failed to open captured output: %w", err)
	}
	defer func() {
		_ = actual.Close()
	}()

	return equalContent(expected, actual)
}

func equalContent(a, b io.Reader) (bool, error) {
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)

	for {
		nA, errA := io.ReadFull(a, bufA)
		if errA != nil && !isEOF(errA) {
			return false, errA
		}
		nB, errB := io.ReadFull(b, bufB)
		if errB != nil && !isEOF(errB) {
			return false, errB
		}

		if !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		if isEOF(errA) || isEOF(errB) {
			return isEOF(errA) && isEOF(errB), nil
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Diff renders the difference between the two files, empty when they match.
func (c comparator) Diff(expectedPath, actualPath string) (string, error) {
	expected, err := c.readHead(expectedPath)
	if err != nil {
		return "", err
	}
	actual, err := c.readHead(actualPath)
	if err != nil {
		return "", err
	}

	return cmp.Diff(expected, actual), nil
}

func (c comparator) readHead(pth string) (string, error) {
	f, err := c.fileManager.Open(pth)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	content, err := io.ReadAll(io.LimitReader(f, diffLimit))
	if err != nil {
		return "", err
	}
	return string(content), nil
}
