package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/synthcap/internal/core"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(newMemAppender(), fixedSeeder(11, 22))

	a := r.GetOrCreate("a.pcap")
	require.NotNil(t, a)
	assert.Equal(t, "a.pcap", a.Name())

	info := a.Info()
	assert.False(t, info.HeaderWritten)
	assert.Equal(t, uint32(11), info.Seq)
	assert.Equal(t, uint32(22), info.Ack)

	assert.Same(t, a, r.GetOrCreate("a.pcap"))
	assert.NotSame(t, a, r.GetOrCreate("b.pcap"))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Lookup("a.pcap")
	assert.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Lookup("missing.pcap")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len(), "Lookup must not create sessions")
}

func TestRegistryConcurrentFirstTouch(t *testing.T) {
	var seeded atomic.Int32
	seeder := SeederFunc(func() (uint32, uint32) {
		seeded.Add(1)
		return 1, 2
	})
	r := NewRegistry(newMemAppender(), seeder)

	const workers = 64
	sessions := make([]*Session, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sessions[i] = r.GetOrCreate("shared.pcap")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, int32(1), seeded.Load(), "exactly one session must be created")
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySessionsSorted(t *testing.T) {
	r := NewRegistry(newMemAppender(), fixedSeeder(0, 0))
	for _, name := range []string{"c.pcap", "a.pcap", "b.pcap"} {
		r.GetOrCreate(name)
	}

	infos := r.Sessions()
	require.Len(t, infos, 3)
	for i, name := range []string{"a.pcap", "b.pcap", "c.pcap"} {
		assert.Equal(t, name, infos[i].Name)
	}
}

func TestRegistryNilSeederDefaultsToRandom(t *testing.T) {
	r := NewRegistry(newMemAppender(), nil)
	require.NotNil(t, r.seeder)
	r.GetOrCreate("x.pcap")
}

func TestNewSeeder(t *testing.T) {
	for _, mode := range []SeedMode{"", SeedRandom, SeedClock, "CLOCK"} {
		s, err := NewSeeder(mode)
		require.NoError(t, err, "mode %q", mode)
		require.NotNil(t, s)
	}

	_, err := NewSeeder("lavalamp")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestClockSeederSameSecond(t *testing.T) {
	at := time.Unix(1700000000, 0)
	c := clockSeeder{now: func() time.Time { return at }}

	seq1, ack1 := c.Seed()
	seq2, ack2 := c.Seed()
	assert.Equal(t, seq1, seq2, "sessions created in the same second share counters")
	assert.Equal(t, ack1, ack2)

	at = at.Add(time.Second)
	seq3, _ := c.Seed()
	assert.NotEqual(t, seq1, seq3, fmt.Sprintf("seq %d repeated across seconds", seq1))
}
