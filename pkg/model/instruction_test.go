package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
)

func TestParseActionType(t *testing.T) {
	tests := []struct {
		in       string
		expected ActionType
	}{
		{"extract", ActionExtract},
		{"Extract", ActionExtract},
		{"DelDuplicate", ActionDeleteDuplicate},
		{"delete_duplicate", ActionDeleteDuplicate},
		{"run-patcher", ActionRunPatcher},
		{"Patcher", ActionRunPatcher},
		{"Execute", ActionRunExecutable},
		{"CHOOSE", ActionChoose},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseActionType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ParseActionType("teleport")
	assert.ErrorIs(t, err, errors.ErrUnsupportedAction)
}

func TestInstructionDecode(t *testing.T) {
	optionID := uuid.New()

	tests := []struct {
		name     string
		in       Instruction
		expected Action
		wantErr  error
	}{
		{
			name:     "extract ignores overwrite and arguments",
			in:       Instruction{Action: ActionExtract, Source: []string{"<<modDirectory>>/mod.zip"}, Overwrite: true, Arguments: "x"},
			expected: ExtractAction{Sources: []string{"<<modDirectory>>/mod.zip"}},
		},
		{
			name:     "move keeps overwrite",
			in:       Instruction{Action: ActionMove, Source: []string{"a/*.tga", " "}, Destination: "Override", Overwrite: true},
			expected: MoveAction{Sources: []string{"a/*.tga"}, Destination: "Override", Overwrite: true},
		},
		{
			name:    "copy without destination",
			in:      Instruction{Action: ActionCopy, Source: []string{"a"}},
			wantErr: errors.ErrInvalidInstruction,
		},
		{
			name:     "rename uses destination as new name",
			in:       Instruction{Action: ActionRename, Source: []string{"a.2da"}, Destination: "b.2da"},
			expected: RenameAction{Sources: []string{"a.2da"}, NewName: "b.2da"},
		},
		{
			name:     "delete duplicate",
			in:       Instruction{Action: ActionDeleteDuplicate, Source: []string{".tpc", ".tga"}, Destination: "Override", Arguments: " .tpc "},
			expected: DeleteDuplicateAction{Directory: "Override", Compatible: []string{".tpc", ".tga"}, Preferred: ".tpc"},
		},
		{
			name:    "delete duplicate without preferred extension",
			in:      Instruction{Action: ActionDeleteDuplicate, Source: []string{".tpc"}, Destination: "Override"},
			wantErr: errors.ErrInvalidInstruction,
		},
		{
			name:     "run patcher",
			in:       Instruction{Action: ActionRunPatcher, Source: []string{"tslpatchdata/patcher.exe"}, Destination: "<<gameDirectory>>", Arguments: "--install 1"},
			expected: RunPatcherAction{Program: "tslpatchdata/patcher.exe", Destination: "<<gameDirectory>>", Arguments: "--install 1"},
		},
		{
			name:    "run executable with two programs",
			in:      Instruction{Action: ActionRunExecutable, Source: []string{"a.exe", "b.exe"}},
			wantErr: errors.ErrInvalidInstruction,
		},
		{
			name:     "choose parses ids",
			in:       Instruction{Action: ActionChoose, Source: []string{optionID.String()}},
			expected: ChooseAction{Options: []uuid.UUID{optionID}},
		},
		{
			name:    "choose with garbage id",
			in:      Instruction{Action: ActionChoose, Source: []string{"not-a-uuid"}},
			wantErr: errors.ErrInvalidInstruction,
		},
		{
			name:    "unknown action",
			in:      Instruction{Action: "teleport", Source: []string{"a"}},
			wantErr: errors.ErrUnsupportedAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Decode()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.in.Action, got.Type())
		})
	}
}
