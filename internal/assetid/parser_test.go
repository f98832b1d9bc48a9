package assetid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		expectErr    bool
		expectHidden bool
		expectedID   ID
	}{
		{
			name:       "simple id",
			raw:        "a|web/a.txt",
			expectedID: ID{Package: "a", Path: "web/a.txt"},
		},
		{
			name:         "hidden form",
			raw:          "$$a|lib/a.g.txt",
			expectHidden: true,
			expectedID:   ID{Package: "a", Path: "lib/a.g.txt"},
		},
		{
			name:       "package uri",
			raw:        "package:b/src/util.txt",
			expectedID: ID{Package: "b", Path: "lib/src/util.txt"},
		},
		{
			name:       "redundant separators are cleaned",
			raw:        "a|web//sub/./a.txt",
			expectedID: ID{Package: "a", Path: "web/sub/a.txt"},
		},
		{
			name:      "error - missing separator",
			raw:       "a/web/a.txt",
			expectErr: true,
		},
		{
			name:      "error - empty package",
			raw:       "|web/a.txt",
			expectErr: true,
		},
		{
			name:      "error - empty path",
			raw:       "a|",
			expectErr: true,
		},
		{
			name:      "error - path escapes package",
			raw:       "a|../secret.txt",
			expectErr: true,
		},
		{
			name:      "error - bare package uri",
			raw:       "package:b",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, hidden, err := Parse(tc.raw)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedID, id)
			assert.Equal(t, tc.expectHidden, hidden)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	id := New("my_pkg", "web/sub/main.txt")
	parsed, hidden, err := Parse(id.String())
	require.NoError(t, err)
	assert.False(t, hidden)
	assert.Equal(t, id, parsed)

	parsed, hidden, err = Parse(id.HiddenString())
	require.NoError(t, err)
	assert.True(t, hidden)
	assert.Equal(t, id, parsed)
}

func TestURI(t *testing.T) {
	libAsset := New("b", "lib/src/util.txt")
	uri, err := libAsset.URI()
	require.NoError(t, err)
	assert.Equal(t, "package:b/src/util.txt", uri)

	roundTripped, err := ParseURI(uri)
	require.NoError(t, err)
	assert.Equal(t, libAsset, roundTripped)

	_, err = New("b", "web/page.txt").URI()
	require.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".txt", New("a", "web/a.txt").Extension())
	assert.Equal(t, ".copy", New("a", "web/a.txt.copy").Extension())
	assert.Equal(t, "", New("a", "web/Makefile").Extension())
	assert.Equal(t, "", New("a", "web.dir/Makefile").Extension())
}

func TestSetSorted(t *testing.T) {
	s := NewSet(
		New("b", "lib/z.txt"),
		New("a", "web/a.txt"),
		New("a", "lib/a.txt"),
	)
	sorted := s.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, New("a", "lib/a.txt"), sorted[0])
	assert.Equal(t, New("a", "web/a.txt"), sorted[1])
	assert.Equal(t, New("b", "lib/z.txt"), sorted[2])
}
