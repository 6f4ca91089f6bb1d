package relpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{".", ""},
		{"./", ""},
		{"/", ""},
		{"./docs/a.txt", "docs/a.txt"},
		{"././docs", "docs"},
		{"/Docs/A.txt", "Docs/A.txt"},
		{"docs//nested/", "docs/nested"},
		{"docs/./x/../y", "docs/y"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.in))
		})
	}
}

func TestKey_CaseInsensitive(t *testing.T) {
	assert.Equal(t, Key("./Foo.txt"), Key("/foo.TXT"))
	assert.NotEqual(t, Key("foo.txt"), Key("foo.txt.bak"))
}

func TestRemote(t *testing.T) {
	assert.Equal(t, "/", Remote())
	assert.Equal(t, "/", Remote("", "."))
	assert.Equal(t, "/photos/2024", Remote("/photos", "2024"))
	assert.Equal(t, "/a/b/c.txt", Remote("a", "./b", "c.txt"))
}

func TestRel(t *testing.T) {
	tests := []struct {
		base, full string
		want       string
		ok         bool
	}{
		{"/", "/docs/a.txt", "docs/a.txt", true},
		{"/Docs", "/docs/a.txt", "a.txt", true},
		{"/docs", "/DOCS", "", true},
		{"/docs", "/documents/a.txt", "", false},
		{"/docs/sub", "/docs", "", false},
	}

	for _, tt := range tests {
		got, ok := Rel(tt.base, tt.full)
		assert.Equal(t, tt.ok, ok, "%s in %s", tt.full, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestBaseAndCd(t *testing.T) {
	assert.Equal(t, "b.txt", Base("/a/b.txt"))
	assert.Equal(t, "", Base("/"))

	assert.Equal(t, "/", Cd("/a/b", ""))
	assert.Equal(t, "/a", Cd("/a/b", ".."))
	assert.Equal(t, "/a/b/c", Cd("/a/b", "c"))
	assert.Equal(t, "/x", Cd("/a/b", "/x"))
	assert.Equal(t, "/", Cd("/", ".."))
}
