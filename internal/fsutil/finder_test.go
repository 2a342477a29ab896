package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.hcl", "a/z.hcl", "a/y.rules.yaml", "a/notes.txt", ".hidden/x.hcl", "c/.keep/d.hcl"} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}

	testCases := []struct {
		name       string
		extensions []string
		expected   []string
		errorMsg   string
	}{
		{name: "one extension", extensions: []string{".hcl"}, expected: []string{"a/z.hcl", "b.hcl"}},
		{name: "several extensions", extensions: []string{".rules.yaml", ".txt"}, expected: []string{"a/notes.txt", "a/y.rules.yaml"}},
		{name: "no match", extensions: []string{".json"}},
		{name: "no extension", errorMsg: "no file extension given"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			files, err := FindFiles(root, tc.extensions...)
			if tc.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
				return
			}
			require.NoError(t, err)
			var rel []string
			for _, f := range files {
				r, err := filepath.Rel(root, f)
				require.NoError(t, err)
				rel = append(rel, filepath.ToSlash(r))
			}
			assert.Equal(t, tc.expected, rel)
		})
	}

	_, err := FindFiles(filepath.Join(root, "missing"), ".hcl")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
