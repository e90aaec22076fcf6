package resolver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkbuild/internal/models"
)

func id(parts ...string) models.DocumentID {
	return models.DocumentID(filepath.Join(append([]string{string(filepath.Separator)}, parts...)...))
}

func TestResolve(t *testing.T) {
	root := id("ws")
	origin := id("ws", "main.ink")
	nested := id("ws", "chapters", "one.ink")

	tests := []struct {
		name string
		mode Mode
		req  Request
		want models.DocumentID
		err  error
	}{
		{"relative to origin", ModeRelative, Request{Origin: origin, Written: "intro.ink"}, id("ws", "intro.ink"), nil},
		{"relative to including", ModeRelative, Request{Origin: origin, Including: nested, Written: "two.ink"}, id("ws", "chapters", "two.ink"), nil},
		{"dot segments", ModeRelative, Request{Origin: nested, Written: "./../common/./x.ink"}, id("ws", "common", "x.ink"), nil},
		{"strict rejects absolute", ModeRelative, Request{Origin: origin, Written: "/shared.ink"}, "", ErrUnresolvable},
		{"strict rejects empty", ModeRelative, Request{Origin: origin, Written: "  "}, "", ErrUnresolvable},
		{"root relative", ModeRootRelative, Request{Origin: nested, Written: "/shared/a.ink", Root: root.Path()}, id("ws", "shared", "a.ink"), nil},
		{"root relative falls back", ModeRootRelative, Request{Origin: nested, Written: "../b.ink", Root: root.Path()}, id("ws", "b.ink"), nil},
		{"root relative without root", ModeRootRelative, Request{Origin: origin, Written: "/a.ink"}, "", ErrNoWorkspaceRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.mode, tt.req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRelative, m)

	m, err = ParseMode(" Root ")
	require.NoError(t, err)
	assert.Equal(t, ModeRootRelative, m)

	_, err = ParseMode("guess")
	assert.Error(t, err)
}
