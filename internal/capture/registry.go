package capture

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"firestige.xyz/synthcap/internal/core"
)

// Seeder draws the initial sequence/acknowledgment counters of a new session.
type Seeder interface {
	Seed() (seq, ack uint32)
}

// SeederFunc adapts a function to Seeder.
type SeederFunc func() (seq, ack uint32)

// Seed implements Seeder.
func (f SeederFunc) Seed() (seq, ack uint32) { return f() }

// SeedMode selects how initial counters are drawn.
type SeedMode string

const (
	// SeedRandom draws both counters from the runtime's randomly seeded generator.
	SeedRandom SeedMode = "random"
	// SeedClock reseeds a generator from wall-clock seconds for every session,
	// so sessions created within the same second start from equal counters.
	SeedClock SeedMode = "clock"
)

// ParseSeedMode validates a configured seed mode. Empty means random.
func ParseSeedMode(s string) (SeedMode, error) {
	switch m := SeedMode(strings.ToLower(s)); m {
	case SeedRandom, SeedClock:
		return m, nil
	case "":
		return SeedRandom, nil
	default:
		return "", fmt.Errorf("%w: unknown seed mode %q", core.ErrConfigInvalid, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SeedMode) UnmarshalText(text []byte) error {
	parsed, err := ParseSeedMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// NewSeeder returns the Seeder for mode.
func NewSeeder(mode SeedMode) (Seeder, error) {
	mode, err := ParseSeedMode(string(mode))
	if err != nil {
		return nil, err
	}
	if mode == SeedClock {
		return clockSeeder{now: time.Now}, nil
	}
	return SeederFunc(func() (uint32, uint32) {
		return rand.Uint32(), rand.Uint32()
	}), nil
}

type clockSeeder struct {
	now func() time.Time
}

func (c clockSeeder) Seed() (seq, ack uint32) {
	r := rand.New(rand.NewPCG(uint64(c.now().Unix()), 0))
	ack = r.Uint32()
	seq = r.Uint32()
	return seq, ack
}

// Registry maps capture file identifiers to their sessions. A session is
// created on first reference and lives as long as the registry.
type Registry struct {
	appender Appender
	seeder   Seeder

	mu       sync.Mutex // guards sessions only, never held across file I/O
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions append through appender.
func NewRegistry(appender Appender, seeder Seeder) *Registry {
	if seeder == nil {
		seeder, _ = NewSeeder(SeedRandom)
	}
	return &Registry{
		appender: appender,
		seeder:   seeder,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for name, creating it if absent.
// Concurrent callers asking for the same name always get the same session.
func (r *Registry) GetOrCreate(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[name]; ok {
		return s
	}
	seq, ack := r.seeder.Seed()
	s := newSession(name, seq, ack, r.appender)
	r.sessions[name] = s
	return s
}

// Lookup returns the session for name without creating one.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of every session, sorted by name.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
