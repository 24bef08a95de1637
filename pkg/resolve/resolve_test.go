package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/provider"
)

func setupTree(t *testing.T) (modDir, gameDir string) {
	t.Helper()
	base := t.TempDir()
	modDir = filepath.Join(base, "mods")
	gameDir = filepath.Join(base, "game")
	files := []string{
		"mods/HQ Textures/Override/a.tga",
		"mods/HQ Textures/Override/b.TGA",
		"mods/HQ Textures/Override/c.tpc",
		"mods/HQ Textures/Override/[old]d.tga",
		"mods/Patch v1/tslpatchdata/changes.ini",
		"mods/Patch v2/tslpatchdata/changes.ini",
		"mods/Patch v2/readme.txt",
		"game/Override/existing.2da",
	}
	for _, f := range files {
		full := filepath.Join(base, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(f), 0o644))
	}
	return modDir, gameDir
}

func newResolver(t *testing.T, modDir, gameDir string, caseInsensitive bool) *Resolver {
	t.Helper()
	r, err := New(Options{
		Placeholders: map[string]string{
			"<<modDirectory>>":  modDir,
			"<<gameDirectory>>": gameDir,
		},
		CaseInsensitive: caseInsensitive,
	})
	require.NoError(t, err)
	return r
}

func listers(t *testing.T, modDir, gameDir string) map[string]Lister {
	t.Helper()
	v, err := provider.NewVirtualProvider(nil, modDir, gameDir)
	require.NoError(t, err)
	return map[string]Lister{
		"real":    provider.NewRealProvider(nil, nil, modDir, gameDir),
		"virtual": v,
	}
}

func TestSubstitute(t *testing.T) {
	r := newResolver(t, "/mods", "/game", true)

	tests := []struct {
		name     string
		template string
		expected string
		wantErr  error
	}{
		{"mod directory", "<<modDirectory>>/a.zip", filepath.FromSlash("/mods/a.zip"), nil},
		{"backslashes", `<<gameDirectory>>\Override\a.tga`, filepath.FromSlash("/game/Override/a.tga"), nil},
		{"token case", "<<GAMEDIRECTORY>>/x", filepath.FromSlash("/game/x"), nil},
		{"cleans dots", "<<modDirectory>>/sub/../a.zip", filepath.FromSlash("/mods/a.zip"), nil},
		{"unknown token", "<<kotorDirectory>>/x", "", errors.ErrUnknownPlaceholder},
		{"relative without base", "Override/a.tga", "", errors.ErrInvalidPath},
		{"empty", "  ", "", errors.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Substitute(tt.template)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSubstitute_BaseDir(t *testing.T) {
	r, err := New(Options{BaseDir: "/mods"})
	require.NoError(t, err)
	got, err := r.Substitute("Override/a.tga")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/mods/Override/a.tga"), got)
}

func TestNew_InvalidPlaceholderKey(t *testing.T) {
	_, err := New(Options{Placeholders: map[string]string{"modDirectory": "/mods"}})
	assert.ErrorIs(t, err, errors.ErrInvalidPlaceholderKey)
}

func TestMatch(t *testing.T) {
	ci, err := New(Options{CaseInsensitive: true})
	require.NoError(t, err)
	cs, err := New(Options{})
	require.NoError(t, err)

	tests := []struct {
		pattern string
		name    string
		ci      bool
		cs      bool
	}{
		{"*.tga", "a.tga", true, true},
		{"*.tga", "b.TGA", true, false},
		{"?.tga", "a.tga", true, true},
		{"?.tga", "ab.tga", false, false},
		{"[old]*.tga", "[old]d.tga", true, true},
		{"[old]*.tga", "o.tga", false, false},
		{"*", "anything", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ci, ci.Match(tt.pattern, tt.name))
			assert.Equal(t, tt.cs, cs.Match(tt.pattern, tt.name))
		})
	}
}

func TestResolve_SameExpansionForBothProviders(t *testing.T) {
	modDir, gameDir := setupTree(t)
	r := newResolver(t, modDir, gameDir, true)

	templates := []string{
		"<<modDirectory>>/HQ Textures/Override/*.tga",
		"<<modDirectory>>/HQ Textures/Override/*",
		"<<modDirectory>>/Patch v*/tslpatchdata/changes.ini",
		"<<modDirectory>>/Patch v?/*",
		"<<modDirectory>>/hq textures/override/?.tpc",
	}

	results := map[string][][]string{}
	for name, l := range listers(t, modDir, gameDir) {
		for _, tmpl := range templates {
			got, err := r.Resolve(l, tmpl)
			require.NoError(t, err, "%s: %s", name, tmpl)
			results[name] = append(results[name], got)
		}
	}
	assert.Equal(t, results["real"], results["virtual"])

	hq := filepath.Join(modDir, "HQ Textures", "Override")
	assert.Equal(t, []string{
		filepath.Join(hq, "[old]d.tga"),
		filepath.Join(hq, "a.tga"),
		filepath.Join(hq, "b.TGA"),
	}, results["real"][0])
	assert.Equal(t, []string{
		filepath.Join(modDir, "Patch v1", "tslpatchdata", "changes.ini"),
		filepath.Join(modDir, "Patch v2", "tslpatchdata", "changes.ini"),
	}, results["real"][2])
	assert.Equal(t, []string{filepath.Join(hq, "c.tpc")}, results["real"][4])
}

func TestResolve_Errors(t *testing.T) {
	modDir, gameDir := setupTree(t)

	for name, l := range listers(t, modDir, gameDir) {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t, modDir, gameDir, true)

			_, err := r.Resolve(l, "<<modDirectory>>/HQ Textures/Override/*.dds")
			assert.ErrorIs(t, err, errors.ErrNoMatches)

			_, err = r.Resolve(l, "<<modDirectory>>/Missing Mod/*.tga")
			assert.ErrorIs(t, err, errors.ErrPathNotFound)
			assert.NotErrorIs(t, err, errors.ErrNoMatches)
		})
	}
}

func TestResolve_LiteralCaseFolding(t *testing.T) {
	modDir, gameDir := setupTree(t)

	for name, l := range listers(t, modDir, gameDir) {
		t.Run(name, func(t *testing.T) {
			ci := newResolver(t, modDir, gameDir, true)
			got, err := ci.Resolve(l, "<<modDirectory>>/hq textures/OVERRIDE/A.TGA")
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(modDir, "HQ Textures", "Override", "a.tga")}, got)

			cs := newResolver(t, modDir, gameDir, false)
			got, err = cs.Resolve(l, "<<modDirectory>>/hq textures/OVERRIDE/A.TGA")
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(modDir, "hq textures", "OVERRIDE", "A.TGA")}, got)

			// Missing literal paths come back unchanged.
			got, err = ci.Resolve(l, "<<gameDirectory>>/Override/missing.2da")
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(gameDir, "Override", "missing.2da")}, got)
		})
	}
}
