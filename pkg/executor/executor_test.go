package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/glorpus-work/modkit/pkg/archive"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/provider"
	"github.com/glorpus-work/modkit/pkg/provider/mocks"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

type env struct {
	modDir  string
	gameDir string
	exec    *Executor
}

func newEnv(t *testing.T, files map[string]string) env {
	t.Helper()
	base := t.TempDir()
	e := env{modDir: filepath.Join(base, "mods"), gameDir: filepath.Join(base, "game")}
	require.NoError(t, os.MkdirAll(e.modDir, 0o755))
	require.NoError(t, os.MkdirAll(e.gameDir, 0o755))
	for name, content := range files {
		full := filepath.Join(base, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	res, err := resolve.New(resolve.Options{
		Placeholders: map[string]string{
			"<<modDirectory>>":  e.modDir,
			"<<gameDirectory>>": e.gameDir,
		},
		CaseInsensitive: true,
	})
	require.NoError(t, err)
	e.exec = New(res)
	return e
}

func (e env) providers(t *testing.T) map[string]provider.Provider {
	t.Helper()
	v, err := provider.NewVirtualProvider(nil, e.modDir, e.gameDir)
	require.NoError(t, err)
	return map[string]provider.Provider{
		"virtual": v,
		"real":    provider.NewRealProvider(nil, nil, e.modDir, e.gameDir),
	}
}

func component(instructions ...model.Instruction) *model.Component {
	return &model.Component{ID: uuid.New(), Name: "Test Mod", Instructions: instructions, Selected: true}
}

func categories(issues []model.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Category)
	}
	return out
}

func TestExecute_DeleteDuplicate(t *testing.T) {
	for _, name := range []string{"virtual", "real"} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, map[string]string{
				"game/Override/a.tpc": "tpc",
				"game/Override/a.tga": "tga",
				"game/Override/A.JPG": "jpg",
				"game/Override/b.tga": "only one",
			})
			p := e.providers(t)[name]
			in := model.Instruction{
				Action:      model.ActionDeleteDuplicate,
				Source:      []string{".tpc", "tga", ".jpg"},
				Destination: "<<gameDirectory>>/Override",
				Arguments:   ".tpc",
			}

			res, err := e.exec.Execute(context.Background(), p, component(in), 1, in)
			require.NoError(t, err)
			assert.Empty(t, res.Issues)

			entries, err := p.List(filepath.Join(e.gameDir, "Override"))
			require.NoError(t, err)
			assert.Equal(t, []provider.Entry{{Name: "a.tpc"}, {Name: "b.tga"}}, entries)
		})
	}
}

func TestExecute_DeleteDuplicateWithoutPreferred(t *testing.T) {
	e := newEnv(t, map[string]string{
		"game/Override/b.tga": "tga",
		"game/Override/b.jpg": "jpg",
	})
	p := e.providers(t)["virtual"]
	in := model.Instruction{
		Action:      model.ActionDeleteDuplicate,
		Source:      []string{".tpc", ".tga", ".jpg"},
		Destination: "<<gameDirectory>>/Override",
		Arguments:   ".tpc",
	}

	res, err := e.exec.Execute(context.Background(), p, component(in), 1, in)
	require.NoError(t, err)
	assert.Equal(t, []string{model.CategoryDuplicateAmbiguous}, categories(res.Issues))
	assert.Equal(t, model.SeverityWarning, res.Issues[0].Severity)
	assert.True(t, p.Exists(filepath.Join(e.gameDir, "Override", "b.tga")))
	assert.True(t, p.Exists(filepath.Join(e.gameDir, "Override", "b.jpg")))
}

func TestExecute_Delete(t *testing.T) {
	for _, name := range []string{"virtual", "real"} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, map[string]string{"game/Override/old.2da": "x"})
			p := e.providers(t)[name]
			ctx := context.Background()

			wildcard := model.Instruction{Action: model.ActionDelete, Source: []string{"<<gameDirectory>>/Override/*.bak"}}
			res, err := e.exec.Execute(ctx, p, component(wildcard), 1, wildcard)
			require.NoError(t, err)
			assert.Equal(t, []string{model.CategoryPatternNoMatch}, categories(res.Issues))
			assert.False(t, res.HasErrors())

			literal := model.Instruction{Action: model.ActionDelete, Source: []string{"<<gameDirectory>>/Override/missing.2da"}}
			res, err = e.exec.Execute(ctx, p, component(literal), 1, literal)
			assert.ErrorIs(t, err, errors.ErrPathNotFound)
			assert.Equal(t, []string{model.CategoryMissingPath}, categories(res.Issues))

			ok := model.Instruction{Action: model.ActionDelete, Source: []string{"<<gameDirectory>>/override/OLD.2da"}}
			_, err = e.exec.Execute(ctx, p, component(ok), 1, ok)
			require.NoError(t, err)
			assert.False(t, p.Exists(filepath.Join(e.gameDir, "Override", "old.2da")))
		})
	}
}

func TestExecute_MoveThenExtractOriginal(t *testing.T) {
	e := newEnv(t, nil)
	stage := filepath.Join(filepath.Dir(e.modDir), "stage")
	require.NoError(t, os.MkdirAll(filepath.Join(stage, "Override"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stage, "Override", "a.tga"), []byte("a"), 0o644))
	require.NoError(t, archive.NewManager().Create(context.Background(), stage, filepath.Join(e.modDir, "mod.zip")))

	move := model.Instruction{Action: model.ActionMove, Source: []string{"<<modDirectory>>/mod.zip"}, Destination: "<<modDirectory>>/archives"}
	extractMoved := model.Instruction{Action: model.ActionExtract, Source: []string{"<<modDirectory>>/archives/*.zip"}, Destination: "<<gameDirectory>>"}
	extractStale := model.Instruction{Action: model.ActionExtract, Source: []string{"<<modDirectory>>/mod.zip"}}
	comp := component(move, extractMoved, extractStale)

	p := e.providers(t)["virtual"]
	ctx := context.Background()
	_, err := e.exec.Execute(ctx, p, comp, 1, move)
	require.NoError(t, err)

	res, err := e.exec.Execute(ctx, p, comp, 2, extractMoved)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(e.gameDir, "Override", "a.tga")}, res.Writes)

	res, err = e.exec.Execute(ctx, p, comp, 3, extractStale)
	assert.ErrorIs(t, err, errors.ErrPathNotFound)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.CategoryMissingPath, res.Issues[0].Category)
	assert.Contains(t, res.Issues[0].Message, "earlier in this run")
	assert.Equal(t, 3, res.Issues[0].InstructionIndex)
	assert.Equal(t, comp.ID, res.Issues[0].ComponentID)
}

func TestExecute_ExtractDefaultDestination(t *testing.T) {
	e := newEnv(t, nil)
	stage := filepath.Join(filepath.Dir(e.modDir), "stage")
	require.NoError(t, os.MkdirAll(stage, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stage, "readme.txt"), []byte("r"), 0o644))
	require.NoError(t, archive.NewManager().Create(context.Background(), stage, filepath.Join(e.modDir, "Cool Mod.tar.gz")))

	in := model.Instruction{Action: model.ActionExtract, Source: []string{"<<modDirectory>>/*.tar.gz"}}
	for name, p := range e.providers(t) {
		t.Run(name, func(t *testing.T) {
			res, err := e.exec.Execute(context.Background(), p, component(in), 1, in)
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(e.modDir, "Cool Mod", "readme.txt")}, res.Writes)
		})
	}
}

func TestExecute_CopyOverwrite(t *testing.T) {
	for _, name := range []string{"virtual", "real"} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, map[string]string{
				"mods/Override/a.2da": "new",
				"game/Override/a.2da": "old",
			})
			p := e.providers(t)[name]
			ctx := context.Background()

			noOverwrite := model.Instruction{Action: model.ActionCopy, Source: []string{"<<modDirectory>>/Override/*.2da"}, Destination: "<<gameDirectory>>/Override"}
			res, err := e.exec.Execute(ctx, p, component(noOverwrite), 1, noOverwrite)
			assert.ErrorIs(t, err, errors.ErrDestinationExists)
			assert.Equal(t, []string{model.CategoryDestinationExists}, categories(res.Issues))

			overwrite := noOverwrite
			overwrite.Overwrite = true
			res, err = e.exec.Execute(ctx, p, component(overwrite), 1, overwrite)
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(e.gameDir, "Override", "a.2da")}, res.Writes)
		})
	}
}

func TestExecute_Rename(t *testing.T) {
	e := newEnv(t, map[string]string{"game/Override/a.2da": "a"})
	p := e.providers(t)["virtual"]
	ctx := context.Background()

	bad := model.Instruction{Action: model.ActionRename, Source: []string{"<<gameDirectory>>/Override/a.2da"}, Destination: "sub/b.2da"}
	res, err := e.exec.Execute(ctx, p, component(bad), 1, bad)
	assert.ErrorIs(t, err, errors.ErrInvalidDestination)
	assert.Equal(t, []string{model.CategoryInvalidDestination}, categories(res.Issues))

	good := model.Instruction{Action: model.ActionRename, Source: []string{"<<gameDirectory>>/Override/a.2da"}, Destination: "b.2da"}
	res, err = e.exec.Execute(ctx, p, component(good), 1, good)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(e.gameDir, "Override", "b.2da")}, res.Writes)
}

func TestExecute_Choose(t *testing.T) {
	e := newEnv(t, nil)
	p := e.providers(t)["virtual"]

	first := model.Option{ID: uuid.New(), Name: "First"}
	second := model.Option{ID: uuid.New(), Name: "Second"}
	in := model.Instruction{Action: model.ActionChoose, Source: []string{second.ID.String(), first.ID.String()}}
	comp := component(in)
	comp.Options = []model.Option{first, second}

	res, err := e.exec.Execute(context.Background(), p, comp, 1, in)
	require.NoError(t, err)
	require.Len(t, res.Chosen, 2)
	assert.Equal(t, "First", res.Chosen[0].Name)
	assert.Equal(t, "Second", res.Chosen[1].Name)

	unknown := model.Instruction{Action: model.ActionChoose, Source: []string{uuid.NewString()}}
	res, err = e.exec.Execute(context.Background(), p, comp, 2, unknown)
	assert.ErrorIs(t, err, errors.ErrUnknownOption)
	assert.Equal(t, []string{model.CategoryUnknownOption}, categories(res.Issues))
}

func TestExecute_RunPatcher(t *testing.T) {
	e := newEnv(t, map[string]string{"mods/Patch Dir/patcher": "#!/bin/sh"})
	program := filepath.Join(e.modDir, "Patch Dir", "patcher")
	in := model.Instruction{
		Action:      model.ActionRunPatcher,
		Source:      []string{"<<modDirectory>>/patch dir/patcher"},
		Destination: "<<gameDirectory>>",
		Arguments:   `--install "two words" --mods <<modDirectory>>`,
	}
	wantArgs := []string{e.gameDir, "--install", "two words", "--mods", e.modDir}

	t.Run("virtual only checks the program", func(t *testing.T) {
		res, err := e.exec.Execute(context.Background(), e.providers(t)["virtual"], component(in), 1, in)
		require.NoError(t, err)
		assert.Empty(t, res.Issues)
	})

	t.Run("real runs it", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		runner := mocks.NewMockProcessRunner(ctrl)
		runner.EXPECT().Run(gomock.Any(), program, wantArgs, filepath.Dir(program)).Return(0, nil, nil)

		p := provider.NewRealProvider(runner, nil, e.modDir, e.gameDir)
		_, err := e.exec.Execute(context.Background(), p, component(in), 1, in)
		require.NoError(t, err)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		runner := mocks.NewMockProcessRunner(ctrl)
		runner.EXPECT().Run(gomock.Any(), program, wantArgs, filepath.Dir(program)).Return(1, []byte("failed"), nil)

		p := provider.NewRealProvider(runner, nil, e.modDir, e.gameDir)
		res, err := e.exec.Execute(context.Background(), p, component(in), 1, in)
		assert.ErrorIs(t, err, errors.ErrProcessFailed)
		assert.Equal(t, []string{model.CategoryProcess}, categories(res.Issues))
	})
}

func TestExecute_CancelledContext(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := model.Instruction{Action: model.ActionDelete, Source: []string{"<<gameDirectory>>/x"}}
	res, err := e.exec.Execute(ctx, e.providers(t)["virtual"], component(in), 1, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{model.CategoryCancelled}, categories(res.Issues))
}

func TestExecute_InvalidInstruction(t *testing.T) {
	e := newEnv(t, nil)
	in := model.Instruction{Action: model.ActionMove, Source: []string{"<<modDirectory>>/a"}}
	res, err := e.exec.Execute(context.Background(), e.providers(t)["virtual"], component(in), 1, in)
	assert.ErrorIs(t, err, errors.ErrInvalidInstruction)
	assert.Equal(t, []string{model.CategoryInvalidInstruction}, categories(res.Issues))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&provider.InvalidatedError{Path: "/x", Reason: "deleted"}, model.CategoryMissingPath},
		{errors.Wrap(errors.ErrNoMatches, "*.tga"), model.CategoryPatternNoMatch},
		{errors.Wrap(errors.ErrPathNotFound, "/x"), model.CategoryMissingPath},
		{errors.ErrDestinationExists, model.CategoryDestinationExists},
		{errors.ErrNotAnArchive, model.CategoryNotAnArchive},
		{errors.ErrInvalidDestination, model.CategoryInvalidDestination},
		{errors.ErrUnknownPlaceholder, model.CategoryPlaceholder},
		{&provider.ProcessError{Program: "p", ExitCode: 1}, model.CategoryProcess},
		{errors.ErrUnknownOption, model.CategoryUnknownOption},
		{errors.ErrInvalidInstruction, model.CategoryInvalidInstruction},
		{context.DeadlineExceeded, model.CategoryCancelled},
		{os.ErrPermission, model.CategoryIO},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestArchiveStem(t *testing.T) {
	assert.Equal(t, "mod", archiveStem("/x/mod.zip"))
	assert.Equal(t, "Cool Mod", archiveStem("/x/Cool Mod.tar.gz"))
	assert.Equal(t, "pack.v2", archiveStem("/x/pack.v2.7z"))
}
