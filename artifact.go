package trickle

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Artifact is a code segment promoted to an independent identity so it can
// be shown outside the message stream. Messages never embed Artifacts; the
// same code can always be promoted again from the message text.
type Artifact struct {
	ID       string
	Language string
	Content  string
	Title    string
}

// Previewable reports whether the artifact's language can be rendered as a
// live preview rather than source.
func (a Artifact) Previewable() bool {
	switch a.Language {
	case "html", "javascript", "css":
		return true
	default:
		return false
	}
}

// Promote creates an Artifact from a promotable code segment. Every call
// yields a fresh identity, even for identical segments.
func Promote(seg Segment) (Artifact, error) {
	if !seg.Promotable() {
		return Artifact{}, fmt.Errorf("%s segment (language %q): %w", seg.Kind, seg.Language, ErrNotPromotable)
	}
	return Artifact{
		ID:       uuid.NewString(),
		Language: seg.Language,
		Content:  seg.Content,
		Title:    seg.Language + " code",
	}, nil
}

// Artifacts tracks promoted artifacts and the one currently on display.
// It is safe for concurrent use.
type Artifacts struct {
	mu      sync.Mutex
	byID    map[string]Artifact
	current string
}

// NewArtifacts creates an empty registry.
func NewArtifacts() *Artifacts {
	return &Artifacts{byID: make(map[string]Artifact)}
}

// Show promotes seg and makes the result the current artifact.
func (r *Artifacts) Show(seg Segment) (Artifact, error) {
	a, err := Promote(seg)
	if err != nil {
		return Artifact{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = a
	r.current = a.ID
	return a, nil
}

// Current returns the artifact on display, if any.
func (r *Artifacts) Current() (Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[r.current]
	return a, ok
}

// Get returns a previously promoted artifact.
func (r *Artifacts) Get(id string) (Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	return a, ok
}

// Close clears the current artifact. Promoted artifacts remain retrievable.
func (r *Artifacts) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
}
