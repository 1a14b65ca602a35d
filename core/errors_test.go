package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "duplicate",
			err:      &DuplicateNameError{Scope: "workspace", Name: "bay_bikes_demo"},
			expected: `workspace: name "bay_bikes_demo" registered more than once`,
		},
		{
			name:     "not found",
			err:      &NotFoundError{Repository: "bay_bikes_demo", Category: CategoryPipelines, Name: "x"},
			expected: `repository "bay_bikes_demo" has no pipelines named "x"`,
		},
		{
			name:     "repository not found",
			err:      &NotFoundError{Repository: "nope"},
			expected: `repository "nope" not found`,
		},
		{
			name:     "construction",
			err:      &ConstructionError{Repository: "r", Category: CategoryPipelines, Name: "p", Err: errors.New("bad config")},
			expected: `repository "r": constructing pipelines "p": bad config`,
		},
		{
			name:     "validation without field",
			err:      &ValidationError{Message: "missing"},
			expected: "validation failed: missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error message %q, got %q", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorsSurviveWrapping(t *testing.T) {
	cause := errors.New("bad config")
	err := fmt.Errorf("dispatch: %w", &ConstructionError{Repository: "r", Name: "p", Err: cause})

	if !IsConstruction(err) {
		t.Error("IsConstruction should see through fmt.Errorf wrapping")
	}
	if !errors.Is(err, cause) {
		t.Error("the original cause should be reachable")
	}
	if IsNotFound(err) || IsDuplicateName(err) || IsValidation(err) {
		t.Error("construction error must not match other kinds")
	}
}
