package models

import (
	"fmt"
	"net/http"
)

// Assignment actions
const (
	ActionAssign   = "assign"
	ActionDeassign = "deassign"
)

// AssignmentForm is a bulk relationship change
type AssignmentForm struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
}

// Validate validates the assignment form data
func (f *AssignmentForm) Validate(maxItems int) []string {
	var errors []string

	if f.Action != ActionAssign && f.Action != ActionDeassign {
		errors = append(errors, fmt.Sprintf("action must be %q or %q", ActionAssign, ActionDeassign))
	}
	if len(f.IDs) == 0 {
		errors = append(errors, "ids is required")
	}
	if maxItems > 0 && len(f.IDs) > maxItems {
		errors = append(errors, fmt.Sprintf("at most %d ids may be changed at once, got %d", maxItems, len(f.IDs)))
	}

	return errors
}

// ItemResult reports the outcome for one target of a bulk operation
type ItemResult struct {
	ID      int64  `json:"id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OK reports whether the item was applied
func (r ItemResult) OK() bool {
	return r.Code == http.StatusOK
}
