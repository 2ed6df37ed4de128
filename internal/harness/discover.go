package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// Discover resolves path to scenario files. A file is returned as is; a
// directory is walked recursively for *.yaml and *.yml files, skipping the
// golden fixture directory. Results are sorted for a stable run order.
func Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}

	slices.Sort(files)
	return files, nil
}

// Summary aggregates the results of several scenarios.
type Summary struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is a failed or unrunnable scenario.
type Failure struct {
	Path     string   `json:"path"`
	Scenario string   `json:"scenario,omitempty"`
	Errors   []string `json:"errors"`
}

// Add counts one scenario outcome. A nil result with err records a
// scenario that could not be loaded or started.
func (s *Summary) Add(path string, result *Result, err error) {
	s.Total++
	switch {
	case err != nil:
		s.Failed++
		s.Failures = append(s.Failures, Failure{Path: path, Errors: []string{err.Error()}})
	case !result.Pass:
		s.Failed++
		s.Failures = append(s.Failures, Failure{Path: path, Scenario: result.Scenario, Errors: result.Errors})
	default:
		s.Passed++
	}
}

// OK reports whether every scenario passed.
func (s *Summary) OK() bool {
	return s.Failed == 0
}
