package contract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// Result holds either a validated value or the list of field errors found
// while validating it. Exactly one of Value/Errors is meaningful; check Ok.
type Result[T any] struct {
	Value  T
	Errors []FieldError
}

// Ok reports whether validation produced no errors.
func (r Result[T]) Ok() bool { return len(r.Errors) == 0 }

// FieldError names one invalid field and why it was rejected.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string { return f.Field + ": " + f.Message }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates an AIProcessRequest against its struct tags and
// the legacy-task-type translation described for the contract layer, then
// returns every invalid field rather than stopping at the first.
func ValidateRequest(req domain.AIProcessRequest) Result[domain.AIProcessRequest] {
	req = translateLegacyType(req)

	var errs []FieldError
	if err := v().Struct(req); err != nil {
		errs = toFieldErrors(err)
	}
	if req.TaskId != "" && !req.TaskId.Valid() {
		errs = append(errs, FieldError{Field: "taskId", Message: "must be a UUID"})
	}
	if len(errs) > 0 {
		return Result[domain.AIProcessRequest]{Errors: errs}
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	return Result[domain.AIProcessRequest]{Value: req}
}

// ValidateResponse enforces the result/error mutual-exclusion invariant in
// addition to struct-tag validation.
func ValidateResponse(resp domain.AIProcessResponse) Result[domain.AIProcessResponse] {
	var errs []FieldError
	if err := v().Struct(resp); err != nil {
		errs = append(errs, toFieldErrors(err)...)
	}
	if !resp.Valid() {
		errs = append(errs, FieldError{Field: "result/error", Message: "exactly one of result or error must be set"})
	}
	if len(errs) > 0 {
		return Result[domain.AIProcessResponse]{Errors: errs}
	}
	return Result[domain.AIProcessResponse]{Value: resp}
}

// ValidateBatch validates a BatchTask and every item it carries.
func ValidateBatch(task domain.BatchTask) Result[domain.BatchTask] {
	var errs []FieldError
	if err := v().Struct(task); err != nil {
		errs = append(errs, toFieldErrors(err)...)
	}
	for i, item := range task.Items {
		itemResult := ValidateRequest(item)
		for _, fe := range itemResult.Errors {
			errs = append(errs, FieldError{Field: fmt.Sprintf("items[%d].%s", i, fe.Field), Message: fe.Message})
		}
		task.Items[i] = itemResult.Value
	}
	if len(errs) > 0 {
		return Result[domain.BatchTask]{Errors: errs}
	}
	return Result[domain.BatchTask]{Value: task}
}

// ValidateProgress validates a TaskProgressUpdate.
func ValidateProgress(p domain.TaskProgressUpdate) Result[domain.TaskProgressUpdate] {
	if err := v().Struct(p); err != nil {
		return Result[domain.TaskProgressUpdate]{Errors: toFieldErrors(err)}
	}
	return Result[domain.TaskProgressUpdate]{Value: p}
}

// translateLegacyType folds the deprecated metadata.custom["legacy_type"]
// field into a prompt prefix so the engine only ever sees the unified
// context+prompt contract.
func translateLegacyType(req domain.AIProcessRequest) domain.AIProcessRequest {
	if req.Metadata.Custom == nil {
		return req
	}
	raw, ok := req.Metadata.Custom["legacy_type"]
	if !ok {
		return req
	}
	legacyType, ok := raw.(string)
	if !ok || legacyType == "" {
		return req
	}
	switch legacyType {
	case "generate", "optimize", "fusion", "analyze", "expand":
		req.Prompt = "[legacy:" + legacyType + "] " + req.Prompt
	}
	return req
}

func toFieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed on %q", fe.Tag()),
		})
	}
	return out
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}
