package toolchain

import (
	"fmt"
	"regexp"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-version"
)

var versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)

// VersionProber ...
type VersionProber interface {
	Version(tool string) (*version.Version, error)
}

type versionProber struct {
	logger         log.Logger
	commandFactory command.Factory
}

// NewVersionProber ...
func NewVersionProber(logger log.Logger, commandFactory command.Factory) VersionProber {
	return versionProber{
		logger:         logger,
		commandFactory: commandFactory,
	}
}

// Version runs `<tool> -v` and parses the first dotted version number of its output.
// Both nasm ("NASM version 2.15.05 compiled on ...") and GNU ld ("GNU ld (GNU Binutils) 2.38") answer -v.
func (p versionProber) Version(tool string) (*version.Version, error) {
	cmd := p.commandFactory.Create(tool, []string{"-v"}, nil)
	p.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s version: %w, output: %s", tool, err, out)
	}

	return ParseVersion(out)
}

// ParseVersion ...
func ParseVersion(out string) (*version.Version, error) {
	raw := versionPattern.FindString(out)
	if raw == "" {
		return nil, fmt.Errorf("no version found in output: %s", out)
	}

	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid version (%s): %w", raw, err)
	}
	return v, nil
}

// CheckMinimum fails when the tool is older than minimum. An empty minimum is always satisfied.
func CheckMinimum(prober VersionProber, tool, minimum string) (*version.Version, error) {
	current, err := prober.Version(tool)
	if minimum == "" {
		return current, err
	}

	required, parseErr := version.NewVersion(minimum)
	if parseErr != nil {
		return nil, fmt.Errorf("invalid minimum version (%s) for %s: %w", minimum, tool, parseErr)
	}
	if err != nil {
		return nil, err
	}
	if current.LessThan(required) {
		return current, fmt.Errorf("%s version (%s) is older than the required minimum (%s)", tool, current, required)
	}
	return current, nil
}
