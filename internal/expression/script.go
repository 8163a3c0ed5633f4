package expression

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/dop251/goja"
)

// fnScript runs a JavaScript snippet with the field context bound to
// `fields` and any extra arguments bound to `args`. The value of the last
// statement is the result. Long-running scripts are interrupted.
func fnScript(e *Evaluator, ctx context.Context, args []string, fields models.Fields) (string, error) {
	if err := arity(args, 1, 16); err != nil {
		return "", err
	}
	vm := goja.New()
	obj := make(map[string]any, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	if err := vm.Set("fields", obj); err != nil {
		return "", err
	}
	extra := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		extra = append(extra, a)
	}
	if err := vm.Set("args", extra); err != nil {
		return "", err
	}

	timeout := e.scriptTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	timer := time.AfterFunc(timeout, func() { vm.Interrupt("script timeout") })
	defer timer.Stop()

	v, err := vm.RunString(args[0])
	if err != nil {
		return "", fmt.Errorf("script: %w", err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}
