package rw

import (
	"github.com/vk/assetforge/internal/assetid"
)

// stagedFile is one pending write.
type stagedFile struct {
	content []byte
	hidden  bool
}

// Staging is the in-memory write overlay of one build step. Reads within
// the step see staged content immediately; the disk changes only on Commit,
// so a failed step leaves the filesystem untouched.
type Staging struct {
	files map[assetid.ID]stagedFile
}

// NewStaging creates an empty overlay.
func NewStaging() *Staging {
	return &Staging{files: map[assetid.ID]stagedFile{}}
}

// Stage records a pending write.
func (s *Staging) Stage(id assetid.ID, hidden bool, content []byte) {
	s.files[id] = stagedFile{content: content, hidden: hidden}
}

// Get returns staged content for an asset, if any.
func (s *Staging) Get(id assetid.ID) ([]byte, bool) {
	f, ok := s.files[id]
	if !ok {
		return nil, false
	}
	return f.content, true
}

// Has reports whether a write was staged for id.
func (s *Staging) Has(id assetid.ID) bool {
	_, ok := s.files[id]
	return ok
}

// IDs returns the staged asset IDs in stable order.
func (s *Staging) IDs() []assetid.ID {
	ids := make([]assetid.ID, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	assetid.Sort(ids)
	return ids
}

// Commit flushes every staged write to its physical location.
func (s *Staging) Commit(fs *Filesystem) error {
	for _, id := range s.IDs() {
		f := s.files[id]
		if err := fs.Write(id, f.hidden, f.content); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops all staged writes.
func (s *Staging) Discard() {
	s.files = map[assetid.ID]stagedFile{}
}
