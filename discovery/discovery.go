package discovery

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/steps-toolchain-test/models"
	"github.com/bitrise-steplib/steps-toolchain-test/settings"
)

const readBatchSize = 64

// Candidate is a source file found by the Scanner. Case is only usable when Skip is models.NotSkipped.
type Candidate struct {
	Name string
	Skip models.SkipReason
	Case models.TestCase
}

// Scanner ...
type Scanner interface {
	Scan(dir string, cfg settings.SuiteConfig) iter.Seq2[Candidate, error]
}

type scanner struct {
	fileManager  fileutil.FileManager
	pathModifier pathutil.PathModifier
	sorted       bool
}

// NewScanner returns a Scanner that walks directory entries in the order the OS returns them.
// With sorted set, names are collected first and yielded in lexical order.
func NewScanner(fileManager fileutil.FileManager, pathModifier pathutil.PathModifier, sorted bool) Scanner {
	return scanner{
		fileManager:  fileManager,
		pathModifier: pathModifier,
		sorted:       sorted,
	}
}

// Scan yields one Candidate per entry of dir whose name ends with the source suffix.
// The sequence reads the directory once and can not be restarted.
// A returned error ends the sequence.
func (s scanner) Scan(dir string, cfg settings.SuiteConfig) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		absDir, err := s.pathModifier.AbsPath(dir)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("failed to get absolute path of %s: %w", dir, err))
			return
		}

		names := s.sourceNames(absDir, cfg.Extensions.Source)
		if s.sorted {
			names = sortedNames(names)
		}

		for name, err := range names {
			if err != nil {
				yield(Candidate{}, err)
				return
			}
			if !yield(newCandidate(absDir, name, cfg), nil) {
				return
			}
		}
	}
}

func newCandidate(dir, name string, cfg settings.SuiteConfig) Candidate {
	test, ok := cfg.Lookup(name)
	if !ok {
		return Candidate{Name: name, Skip: models.SkipUnknownTest}
	}
	if test.Exclude {
		return Candidate{Name: name, Skip: models.SkipExcludedTest}
	}

	return Candidate{
		Name: name,
		Case: models.NewTestCase(dir, name, cfg.Extensions, test),
	}
}

// sourceNames yields test names, the entry names with the source suffix stripped.
func (s scanner) sourceNames(dir, suffix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f, err := s.fileManager.Open(dir)
		if err != nil {
			yield("", fmt.Errorf("failed to open test directory: %w", err))
			return
		}
		defer func() {
			_ = f.Close()
		}()

		for {
			entries, err := f.ReadDir(readBatchSize)
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
					continue
				}

				name := strings.TrimSuffix(entry.Name(), suffix)
				if name == "" {
					continue
				}
				if !yield(name, nil) {
					return
				}
			}

			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("failed to read test directory: %w", err))
				return
			}
		}
	}
}

func sortedNames(names iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var collected []string
		for name, err := range names {
			if err != nil {
				yield("", err)
				return
			}
			collected = append(collected, name)
		}

		sort.Strings(collected)
		for _, name := range collected {
			if !yield(name, nil) {
				return
			}
		}
	}
}
