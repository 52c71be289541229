package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(f), 0o644))
	}
	return dir
}

func rel(t *testing.T, base string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		r, err := filepath.Rel(base, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(r)
	}
	return out
}

func TestResolveFiles(t *testing.T) {
	dir := tree(t,
		"README.md",
		"notes.txt",
		"docs/intro.md",
		"docs/guide/setup.md",
		"docs/guide/setup.txt",
		"src/main.go",
	)

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "star stays in one directory",
			patterns: []string{"*.md"},
			want:     []string{"README.md"},
		},
		{
			name:     "double star crosses directories",
			patterns: []string{"docs/**/*.md"},
			want:     []string{"docs/guide/setup.md", "docs/intro.md"},
		},
		{
			name:     "leading double star",
			patterns: []string{"**/*.txt"},
			want:     []string{"docs/guide/setup.txt", "notes.txt"},
		},
		{
			name:     "literal directory is recursive",
			patterns: []string{"docs/guide"},
			want:     []string{"docs/guide/setup.md", "docs/guide/setup.txt"},
		},
		{
			name:     "overlapping patterns are deduplicated",
			patterns: []string{"docs/**/*.md", "docs/intro.md", "  "},
			want:     []string{"docs/guide/setup.md", "docs/intro.md"},
		},
		{
			name:     "alternatives",
			patterns: []string{"*.{txt,go}", "src/*.{txt,go}"},
			want:     []string{"notes.txt", "src/main.go"},
		},
		{
			name:     "missing literal is ignored",
			patterns: []string{"nope.md"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFiles(dir, tt.patterns)
			require.NoError(t, err)
			for _, p := range got {
				assert.True(t, filepath.IsAbs(p), p)
			}
			assert.Equal(t, tt.want, rel(t, dir, got))
		})
	}
}

func TestResolveURLs(t *testing.T) {
	got := ResolveURLs([]string{" https://a.example/x ", "", "https://b.example", "https://a.example/x"})
	assert.Equal(t, []string{"https://a.example/x", "https://b.example"}, got)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/page"))
	assert.True(t, IsURL("http://localhost:8080"))
	assert.False(t, IsURL("/home/user/notes.md"))
	assert.False(t, IsURL("ftp://example.com/file"))
	assert.False(t, IsURL("https://"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		prior string
		known bool
		hash  string
		force bool
		want  Status
	}{
		{"unknown source", "", false, "h1", false, StatusNew},
		{"same hash", "h1", true, "h1", false, StatusSkipped},
		{"changed hash", "h1", true, "h2", false, StatusUpdated},
		{"force overrides skip", "h1", true, "h1", true, StatusNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.prior, tt.known, tt.hash, tt.force))
		})
	}
}

func TestHashFile_MatchesHashText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("same bytes"), 0o644))

	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashText("same bytes"), h)
	assert.Len(t, h, 64)
}

func TestSizeBudget(t *testing.T) {
	b := &sizeBudget{perSource: 10, total: 15}
	assert.NoError(t, b.admit(10))
	assert.ErrorIs(t, b.admit(11), ErrTooLarge)
	assert.NoError(t, b.admit(5))
	assert.ErrorIs(t, b.admit(1), ErrTooLarge)

	unlimited := &sizeBudget{}
	assert.NoError(t, unlimited.admit(1<<40))
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	text, err := ExtractFile(write("page.html", "<html><head><script>var x=1;</script></head><body><p>Hello there</p></body></html>"))
	require.NoError(t, err)
	assert.Contains(t, text, "Hello")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "<p>")

	text, err = ExtractFile(write("notes.md", "Some _emphasis_ and `code`."))
	require.NoError(t, err)
	assert.Contains(t, text, "emphasis")
	assert.NotContains(t, text, "`")

	text, err = ExtractFile(write("plain.txt", "just text"))
	require.NoError(t, err)
	assert.Equal(t, "just text", text)

	_, err = ExtractFile(write("image.png", "\x89PNG\x00\x00"))
	assert.ErrorIs(t, err, errUnsupported)
}
