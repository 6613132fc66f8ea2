// In file: internal/tools/executor.go
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
)

// ToolExecutor is the capability every action executor implements.
//
// Validate turns the backend's raw arguments into the executor's typed
// argument value or returns a *apperrors.ValidationError. Execute only ever
// receives a value previously returned by Validate.
type ToolExecutor interface {
	Definition() Tool
	Validate(arguments json.RawMessage) (any, error)
	Execute(ctx context.Context, args any) (any, error)
}

// Invoke runs one call end to end against an already resolved executor and
// never returns an error: every failure is folded into the Result.
func Invoke(ctx context.Context, executor ToolExecutor, call *ToolCall) Result {
	res := Result{CallID: call.ID, Tool: call.Function.Name}

	raw := json.RawMessage(call.Function.Arguments)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	args, err := executor.Validate(raw)
	if err != nil {
		res.Error = toResultError(err)
		return res
	}

	out, err := executor.Execute(ctx, args)
	if err != nil {
		res.Error = toResultError(err)
		return res
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		res.Error = &ResultError{Kind: string(apperrors.KindExecution), Message: "encode output: " + err.Error()}
		return res
	}
	res.Output = encoded
	return res
}

func toResultError(err error) *ResultError {
	kind := apperrors.KindOf(err)
	retryable := apperrors.IsTransient(err) || kind == apperrors.KindConcurrentModification
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperrors.KindExternalService
		retryable = true
	}
	return &ResultError{Kind: string(kind), Message: err.Error(), Retryable: retryable}
}
