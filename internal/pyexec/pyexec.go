// Package pyexec runs a Python generation-config's code snippet (§4.C
// PythonGen) in a subprocess, never an in-process interpreter. The row
// snapshot is passed as JSON on stdin; the snippet's result comes back as
// a single JSON scalar on stdout. A context deadline enforces the
// wall-clock budget; any non-zero exit or malformed output becomes a
// fatal, cell-scoped error, never a process-terminating one.
package pyexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/schema"
)

// Runner executes Python cell code in a restricted subprocess.
type Runner struct {
	// Interpreter is the restricted CPython interpreter binary (or a
	// wrapper script that drops privileges / sets resource limits before
	// exec'ing it). Defaults to "python3" if empty.
	Interpreter string
	// Budget bounds one cell's wall-clock execution time.
	Budget time.Duration
}

// NewRunner builds a Runner using interpreter (falling back to "python3"
// when empty) with budget as the per-cell wall-clock cap.
func NewRunner(interpreter string, budget time.Duration) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Runner{Interpreter: interpreter, Budget: budget}
}

// driverScript binds the row dict read from stdin to the name "row" and
// evaluates the caller's code as the final expression, writing its result
// JSON-encoded to stdout. It never imports beyond what the caller's code
// itself imports: the sandboxing boundary is the subprocess and its
// restricted interpreter image, not anything this script does.
const driverScript = `
import json
import sys

row = json.loads(sys.stdin.read())


def _cell():
%s


print(json.dumps(_cell()))
`

// Run evaluates code with row bound read-only, returning the scalar
// result. The returned error is always wrapped as an *engineerr.CellError
// for column, per §4.C's "any exception becomes a fatal cell error"
// invariant — the column name the error should be attributed to.
func (r *Runner) Run(ctx context.Context, column, code string, row schema.Row) (any, error) {
	budget := r.Budget
	if budget <= 0 {
		budget = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	payload, err := json.Marshal(map[string]any(row))
	if err != nil {
		return nil, engineerr.NewCellError(column, fmt.Errorf("%w: encoding row: %w", engineerr.ErrInternal, err))
	}

	script := fmt.Sprintf(driverScript, indentBody(code))

	cmd := exec.CommandContext(ctx, r.Interpreter, "-c", script)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, engineerr.NewCellError(column, fmt.Errorf("%w: exceeded %s budget", engineerr.ErrInternal, budget))
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, engineerr.NewCellError(column, errors.New(msg))
	}

	var result any
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return nil, engineerr.NewCellError(column, fmt.Errorf("%w: malformed result: %w", engineerr.ErrInternal, err))
	}
	return result, nil
}

// indentBody indents code's lines under the driver script's function body,
// so a bare expression (the common case per §4.C's "returning a scalar")
// or a short multi-statement snippet both parse as a valid function body.
// The final line is rewritten to a return statement when it looks like a
// bare expression (no statement keyword and no trailing colon).
func indentBody(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	if len(lines) == 0 {
		return "    return None"
	}
	last := len(lines) - 1
	trimmed := strings.TrimSpace(lines[last])
	if trimmed != "" && !looksLikeStatement(trimmed) {
		lines[last] = "return " + lines[last]
	}
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func looksLikeStatement(line string) bool {
	keywords := []string{"return", "raise", "pass", "if ", "for ", "while ", "with ", "def ", "import ", "from ", "#"}
	for _, kw := range keywords {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return strings.HasSuffix(line, ":")
}
