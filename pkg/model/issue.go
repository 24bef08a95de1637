package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Severity ranks a ValidationIssue.
type Severity int

const (
	// SeverityInfo is purely informational.
	SeverityInfo Severity = iota
	// SeverityWarning means the plan would run but may surprise the user.
	SeverityWarning
	// SeverityError means the plan would not run correctly for real.
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Issue categories.
const (
	CategoryPatternNoMatch     = "pattern-no-match"
	CategoryMissingPath        = "missing-path"
	CategoryOverwriteConflict  = "overwrite-conflict"
	CategoryDestinationExists  = "destination-exists"
	CategoryNotAnArchive       = "not-an-archive"
	CategoryInvalidDestination = "invalid-destination"
	CategoryUnknownOption      = "unknown-option"
	CategoryPlaceholder        = "placeholder"
	CategoryProcess            = "process"
	CategoryDependency         = "dependency"
	CategoryRestriction        = "restriction"
	CategoryHook               = "hook"
	CategoryInvalidInstruction = "invalid-instruction"
	CategoryInvalidComponent   = "invalid-component"
	CategoryDuplicateAmbiguous = "duplicate-ambiguous"
	CategoryCancelled          = "cancelled"
	CategoryIO                 = "io"
)

// ValidationIssue is one defect found while validating or executing a plan.
type ValidationIssue struct {
	Severity      Severity  `json:"severity" yaml:"severity"`
	Category      string    `json:"category" yaml:"category"`
	Message       string    `json:"message" yaml:"message"`
	ComponentID   uuid.UUID `json:"component_id,omitempty" yaml:"component_id,omitempty"`
	ComponentName string    `json:"component_name,omitempty" yaml:"component_name,omitempty"`
	InstructionID uuid.UUID `json:"instruction_id,omitempty" yaml:"instruction_id,omitempty"`
	// InstructionIndex is 1-based; 0 means the issue is not tied to an instruction.
	InstructionIndex int `json:"instruction_index,omitempty" yaml:"instruction_index,omitempty"`
}

// String renders the issue on one line.
func (i ValidationIssue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", i.Severity, i.Category)
	if i.ComponentName != "" {
		fmt.Fprintf(&b, " %s", i.ComponentName)
		if i.InstructionIndex > 0 {
			fmt.Fprintf(&b, "#%d", i.InstructionIndex)
		}
	}
	fmt.Fprintf(&b, ": %s", i.Message)
	return b.String()
}

// IsError reports whether the issue blocks the plan.
func (i ValidationIssue) IsError() bool {
	return i.Severity == SeverityError
}
