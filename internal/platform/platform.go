// Package platform defines the contract between the sync engine and the
// chat platforms it archives. Wire protocols live in subpackages.
package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"archive-sync-service/internal/classify"
)

// MaxPageSize is the largest page any adapter is asked for.
const MaxPageSize = 100

type Channel struct {
	PlatformID string
	Name       string
	Type       string
	ParentID   string
	Position   int
}

type Reaction struct {
	UserID string
	Emoji  string
}

type Attachment struct {
	PlatformID  string
	Filename    string
	URL         string
	ContentType string
	Size        int64
}

type Message struct {
	PlatformID  string
	AuthorID    string
	Content     string
	ReplyToID   string
	CreatedAt   time.Time
	EditedAt    *time.Time
	Reactions   []Reaction
	Attachments []Attachment
}

type FetchOptions struct {
	// AfterMessageID is exclusive. Empty means from the beginning of history.
	AfterMessageID string
	Limit          int
}

type Page struct {
	Messages []Message // oldest first
	HasMore  bool
	// Checkpoint is an adapter-provided cursor, when it differs from the
	// last message id.
	Checkpoint string
}

// Adapter pages through a platform's channels and messages. Implementations
// must surface rate limiting as an error that classify recognises.
type Adapter interface {
	Platform() string
	ListChannels(ctx context.Context, serverID string) ([]Channel, error)
	FetchMessages(ctx context.Context, channelID string, opts FetchOptions) (*Page, error)
}

// Registry resolves adapters by platform name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Platform())] = a
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q: %w", name, classify.ErrInvalidConfiguration)
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompareIDs orders platform message ids. Discord snowflakes and Slack
// timestamps both sort by length first, then lexically.
func CompareIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
