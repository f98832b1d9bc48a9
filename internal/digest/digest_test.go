package digest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/assetid"
)

func TestComputeChangesWithContentAndIdentity(t *testing.T) {
	id := assetid.New("a", "web/a.txt")

	d1 := Compute(id, []byte("a"))
	d2 := Compute(id, []byte("b"))
	assert.NotEqual(t, d1, d2, "content change must change the digest")

	d3 := Compute(assetid.New("a", "web/b.txt"), []byte("a"))
	assert.NotEqual(t, d1, d3, "identity change must change the digest")

	assert.Equal(t, d1, Compute(id, []byte("a")), "digests are deterministic")
}

func TestFromReaderMatchesCompute(t *testing.T) {
	id := assetid.New("a", "lib/a.txt")
	content := []byte("some generated content")

	streamed, err := FromReader(id, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, Compute(id, content), streamed)
}
