package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Requirement defines an external dependency groundseg relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// ModuleRunner runs an interpreter with extra environment and arguments and
// returns combined output.
type ModuleRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// PythonModules are the packages the model worker imports.
var PythonModules = []string{"torch", "diffusers", "transformers", "mmdet"}

// CheckPythonModules verifies that each module imports under the given
// interpreter and environment. A nil runner executes the interpreter directly.
func CheckPythonModules(ctx context.Context, python string, env []string, modules []string, runner ModuleRunner) []Status {
	if runner == nil {
		runner = execRunner
	}
	results := make([]Status, 0, len(modules))
	for _, module := range modules {
		status := Status{
			Name:        module,
			Command:     python,
			Description: "Python package used by the model worker",
		}
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		out, err := runner(checkCtx, env, python, "-c", "import "+module)
		cancel()
		if err != nil {
			status.Detail = summarizeImportFailure(module, out, err)
		} else {
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

func summarizeImportFailure(module string, out []byte, err error) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return fmt.Sprintf("import %s failed: %v", module, err)
}
