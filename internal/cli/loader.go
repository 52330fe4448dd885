package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/memotrace/internal/policy"
)

// LoadResult contains the policies loaded from a file or directory.
type LoadResult struct {
	Rules     []policy.Rule
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred while loading policies.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPolicies loads CUE policy rules from a single file or from every .cue
// file of a directory (one CUE package).
//
// A nil result means nothing could be loaded. Otherwise the returned errors
// are per-rule compile and validation errors; the rules that compiled are
// in the result.
func LoadPolicies(path string) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing policy path: %v", err)}}
	}

	var value cue.Value
	var count int
	if info.IsDir() {
		value, count, err = loadDir(path)
	} else {
		value, err = loadFile(path)
		count = 1
	}
	if err != nil {
		return nil, []error{err}
	}

	result := &LoadResult{CUEValue: value, FileCount: count}
	rules, errs := policy.CompileRules(value)
	for _, r := range rules {
		for _, verr := range policy.Validate(r) {
			errs = append(errs, verr)
		}
	}
	result.Rules = rules

	if len(rules) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no policies found"})
	}
	return result, errs
}

func loadFile(path string) (cue.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	value := cuecontext.New().CompileBytes(src, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, nil
}

func loadDir(dir string) (cue.Value, int, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

// FindCUEFiles returns the .cue files directly inside dir, the files that
// make up its CUE package.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// loadRules loads policies for a command, failing on any error.
func loadRules(path string) ([]policy.Rule, error) {
	result, errs := LoadPolicies(path)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Rules, nil
}

// errorCode returns the CLI code for a load, compile or validation error.
func errorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var verr policy.ValidationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	var cerr *policy.CompileError
	if errors.As(err, &cerr) {
		return ErrCodeCompile
	}
	return ErrCodeGeneric
}

// errorLine returns the source line of err, or 0.
func errorLine(err error) int {
	var loadErr *LoadError
	if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
		return loadErr.Pos.Line()
	}
	var cerr *policy.CompileError
	if errors.As(err, &cerr) && cerr.Pos.IsValid() {
		return cerr.Pos.Line()
	}
	return 0
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeCompile     = "E008" // Policy rule failed to compile
	ErrCodeScenario    = "E009" // Scenario failed to parse
	ErrCodeDatabase    = "E010" // Database error
)
