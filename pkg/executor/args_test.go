package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

func TestSplitArguments(t *testing.T) {
	res, err := resolve.New(resolve.Options{Placeholders: map[string]string{
		"<<gameDirectory>>": "/games/Star Wars KOTOR",
	}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		in       string
		expected []string
		wantErr  error
	}{
		{name: "empty", in: "  ", expected: nil},
		{name: "plain", in: "-a -b", expected: []string{"-a", "-b"}},
		{name: "quoted", in: `--name "High Quality" 'x y'`, expected: []string{"--name", "High Quality", "x y"}},
		{name: "placeholder with spaces", in: "--game <<gameDirectory>>", expected: []string{"--game", "/games/Star Wars KOTOR"}},
		{name: "placeholder inside quotes", in: `"--game=<<gameDirectory>>"`, expected: []string{"--game=/games/Star Wars KOTOR"}},
		{name: "unknown placeholder", in: "<<nope>>", wantErr: errors.ErrUnknownPlaceholder},
		{name: "unbalanced quote", in: `"open`, wantErr: errors.ErrInvalidInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArguments(res, tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
