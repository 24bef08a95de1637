package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// ActionType names the operation an Instruction performs.
type ActionType string

// Supported action types.
const (
	ActionExtract         ActionType = "extract"
	ActionMove            ActionType = "move"
	ActionCopy            ActionType = "copy"
	ActionRename          ActionType = "rename"
	ActionDelete          ActionType = "delete"
	ActionDeleteDuplicate ActionType = "delete_duplicate"
	ActionRunPatcher      ActionType = "run_patcher"
	ActionRunExecutable   ActionType = "run_executable"
	ActionChoose          ActionType = "choose"
)

var actionAliases = map[string]ActionType{
	"extract":                    ActionExtract,
	"move":                       ActionMove,
	"copy":                       ActionCopy,
	"rename":                     ActionRename,
	"delete":                     ActionDelete,
	"deleteduplicate":            ActionDeleteDuplicate,
	"delduplicate":               ActionDeleteDuplicate,
	"deleteduplicatebyextension": ActionDeleteDuplicate,
	"runpatcher":                 ActionRunPatcher,
	"patcher":                    ActionRunPatcher,
	"runexecutable":              ActionRunExecutable,
	"execute":                    ActionRunExecutable,
	"choose":                     ActionChoose,
}

// ParseActionType accepts the canonical names as well as CamelCase and
// dashed spellings such as "DelDuplicate" or "run-patcher".
func ParseActionType(s string) (ActionType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	if at, ok := actionAliases[key]; ok {
		return at, nil
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnsupportedAction, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActionType) UnmarshalText(text []byte) error {
	at, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = at
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActionType) UnmarshalYAML(node *yaml.Node) error {
	return a.UnmarshalText([]byte(node.Value))
}

// Instruction is one atomic step of a component's install plan. Which fields
// are meaningful depends on Action; Decode turns it into a typed Action.
type Instruction struct {
	ID          uuid.UUID  `yaml:"id,omitempty"`
	Action      ActionType `yaml:"action"`
	Source      []string   `yaml:"source,omitempty"`
	Destination string     `yaml:"destination,omitempty"`
	Overwrite   bool       `yaml:"overwrite,omitempty"`
	Arguments   string     `yaml:"arguments,omitempty"`
}

// Action is the closed set of typed instruction payloads.
type Action interface {
	Type() ActionType
	action()
}

// ExtractAction extracts every archive matching Sources into Destination.
// An empty Destination extracts next to the archive into a directory named
// after it.
type ExtractAction struct {
	Sources     []string
	Destination string
}

// MoveAction moves every match of Sources into the Destination directory.
type MoveAction struct {
	Sources     []string
	Destination string
	Overwrite   bool
}

// CopyAction copies every match of Sources into the Destination directory.
type CopyAction struct {
	Sources     []string
	Destination string
	Overwrite   bool
}

// RenameAction renames the single match of Sources to NewName in place.
type RenameAction struct {
	Sources   []string
	NewName   string
	Overwrite bool
}

// DeleteAction deletes every match of Sources.
type DeleteAction struct {
	Sources []string
}

// DeleteDuplicateAction removes files in Directory that share a base name
// across the Compatible extensions, keeping only the Preferred one.
type DeleteDuplicateAction struct {
	Directory  string
	Compatible []string
	Preferred  string
}

// RunPatcherAction runs an external patcher against Destination.
type RunPatcherAction struct {
	Program     string
	Destination string
	Arguments   string
}

// RunExecutableAction runs an arbitrary program.
type RunExecutableAction struct {
	Program   string
	Arguments string
}

// ChooseAction selects options of the owning component.
type ChooseAction struct {
	Options []uuid.UUID
}

func (ExtractAction) Type() ActionType         { return ActionExtract }
func (MoveAction) Type() ActionType            { return ActionMove }
func (CopyAction) Type() ActionType            { return ActionCopy }
func (RenameAction) Type() ActionType          { return ActionRename }
func (DeleteAction) Type() ActionType          { return ActionDelete }
func (DeleteDuplicateAction) Type() ActionType { return ActionDeleteDuplicate }
func (RunPatcherAction) Type() ActionType      { return ActionRunPatcher }
func (RunExecutableAction) Type() ActionType   { return ActionRunExecutable }
func (ChooseAction) Type() ActionType          { return ActionChoose }

func (ExtractAction) action()         {}
func (MoveAction) action()            {}
func (CopyAction) action()            {}
func (RenameAction) action()          {}
func (DeleteAction) action()          {}
func (DeleteDuplicateAction) action() {}
func (RunPatcherAction) action()      {}
func (RunExecutableAction) action()   {}
func (ChooseAction) action()          {}

// Decode validates the fields required by the instruction's action type and
// returns the typed payload. Fields the action type ignores are dropped.
func (in Instruction) Decode() (Action, error) {
	sources := nonEmpty(in.Source)

	switch in.Action {
	case ActionExtract:
		if len(sources) == 0 {
			return nil, in.invalid("extract needs at least one source archive")
		}
		return ExtractAction{Sources: sources, Destination: in.Destination}, nil

	case ActionMove, ActionCopy:
		if len(sources) == 0 {
			return nil, in.invalid("%s needs at least one source", in.Action)
		}
		if strings.TrimSpace(in.Destination) == "" {
			return nil, in.invalid("%s needs a destination directory", in.Action)
		}
		if in.Action == ActionMove {
			return MoveAction{Sources: sources, Destination: in.Destination, Overwrite: in.Overwrite}, nil
		}
		return CopyAction{Sources: sources, Destination: in.Destination, Overwrite: in.Overwrite}, nil

	case ActionRename:
		if len(sources) == 0 {
			return nil, in.invalid("rename needs a source")
		}
		if strings.TrimSpace(in.Destination) == "" {
			return nil, in.invalid("rename needs a new file name")
		}
		return RenameAction{Sources: sources, NewName: in.Destination, Overwrite: in.Overwrite}, nil

	case ActionDelete:
		if len(sources) == 0 {
			return nil, in.invalid("delete needs at least one source")
		}
		return DeleteAction{Sources: sources}, nil

	case ActionDeleteDuplicate:
		if strings.TrimSpace(in.Destination) == "" {
			return nil, in.invalid("delete_duplicate needs a directory")
		}
		if len(sources) == 0 {
			return nil, in.invalid("delete_duplicate needs compatible extensions")
		}
		if strings.TrimSpace(in.Arguments) == "" {
			return nil, in.invalid("delete_duplicate needs a preferred extension")
		}
		return DeleteDuplicateAction{
			Directory:  in.Destination,
			Compatible: sources,
			Preferred:  strings.TrimSpace(in.Arguments),
		}, nil

	case ActionRunPatcher, ActionRunExecutable:
		if len(sources) != 1 {
			return nil, in.invalid("%s needs exactly one program, got %d", in.Action, len(sources))
		}
		if in.Action == ActionRunPatcher {
			return RunPatcherAction{Program: sources[0], Destination: in.Destination, Arguments: in.Arguments}, nil
		}
		return RunExecutableAction{Program: sources[0], Arguments: in.Arguments}, nil

	case ActionChoose:
		if len(sources) == 0 {
			return nil, in.invalid("choose needs at least one option id")
		}
		ids := make([]uuid.UUID, 0, len(sources))
		for _, s := range sources {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, in.invalid("choose option %q is not a valid id", s)
			}
			ids = append(ids, id)
		}
		return ChooseAction{Options: ids}, nil
	}

	return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedAction, in.Action)
}

func (in Instruction) invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidInstruction, fmt.Sprintf(format, args...))
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
