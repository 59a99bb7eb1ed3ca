package cli

// This file loads test plans: lists of tests run one after another in a
// single fixture session.

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// plannedTest is one test of a run.
type plannedTest struct {
	// Test name, optionally with a [param] suffix
	Test string `yaml:"test"`
	// Test parameter; overrides the [param] suffix
	Param string `yaml:"param,omitempty"`
	// Shell command executed on the DUT as the test body
	Command string `yaml:"command"`
}

type plan struct {
	Tests []plannedTest `yaml:"tests"`
}

var errEmptyPlan = errors.New("test plan contains no tests")

// loadPlan reads a YAML test plan:
//
//	tests:
//	  - test: test_load[wt]
//	    command: fio --name=load --rw=randwrite
//	  - test: test_flush
//	    command: ./flush.sh
//
// Tests without a name are called "run".
func loadPlan(fs afero.Fs, path string) ([]plannedTest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test plan %s: %w", path, err)
	}

	var p plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse test plan %s: %w", path, err)
	}
	if len(p.Tests) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyPlan)
	}

	for i := range p.Tests {
		if p.Tests[i].Test == "" {
			p.Tests[i].Test = "run"
		}
		if p.Tests[i].Command == "" {
			return nil, fmt.Errorf("test plan %s: test %d (%s) has no command", path, i+1, p.Tests[i].Test)
		}
	}
	return p.Tests, nil
}
