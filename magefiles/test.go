//go:build mage

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// targetArgs are the arguments after the target name, such as
// ["--run", "TestOpen"] for "mage test:all --run TestOpen". Mage rejects
// unknown arguments, so init strips them from os.Args before mage parses it.
var targetArgs []string

func init() {
	os.Args, targetArgs = splitTargetArgs(os.Args)
}

// splitTargetArgs cuts args after the first non-flag argument, the target.
// A "--" before any target leaves args unchanged.
func splitTargetArgs(args []string) (mageArgs, rest []string) {
	for i := 1; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return args, nil
		}
		if a != "" && a[0] != '-' {
			return args[:i+1], args[i+1:]
		}
	}
	return args, nil
}

// parseTargetFlags parses targetArgs into fs and exits on a parse error.
func parseTargetFlags(fs *flag.FlagSet) {
	err := fs.Parse(targetArgs)
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", fs.Name(), err)
		os.Exit(1)
	}
}

// Test groups test targets.
type Test mg.Namespace

const coverProfile = "coverage.out"

// testConfig holds flags for the test targets.
type testConfig struct {
	run     string
	pkg     string
	verbose bool
}

// parseTestFlags reads --run, --pkg, and --v from the target arguments.
func parseTestFlags() testConfig {
	var cfg testConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.run, "run", "", "only run tests matching this regexp")
	fs.StringVar(&cfg.pkg, "pkg", "./...", "package pattern to test")
	fs.BoolVar(&cfg.verbose, "v", false, "verbose test output")
	parseTargetFlags(fs)
	return cfg
}

func (cfg testConfig) args(extra ...string) []string {
	args := []string{"test"}
	if cfg.verbose {
		args = append(args, "-v")
	}
	if cfg.run != "" {
		args = append(args, "-run", cfg.run)
	}
	args = append(args, extra...)
	return append(args, cfg.pkg)
}

// All runs every package test.
//
//	mage test:all --run TestRecordLifecycle --pkg ./internal/cli
func (Test) All() error {
	return sh.RunV(binGo, parseTestFlags().args()...)
}

// Race runs the tests with the race detector. The engine, feed, and
// backends have concurrency tests that only mean something under -race.
func (Test) Race() error {
	return sh.RunV(binGo, parseTestFlags().args("-race", "-count=1")...)
}

// Cover runs the tests and writes a coverage profile, then prints the
// per-function summary.
func (Test) Cover() error {
	if err := sh.RunV(binGo, parseTestFlags().args("-coverprofile="+coverProfile)...); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func="+coverProfile)
}
