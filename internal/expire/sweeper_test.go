package expire

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternalApril/lunakv/internal/config"
	"github.com/eternalApril/lunakv/internal/storage"
)

// scripted replays fixed DeleteExpired results
type scripted struct {
	mu      sync.Mutex
	results [][2]int
	calls   int
}

func (s *scripted) DeleteExpired(int) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) == 0 {
		return 0, 0
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r[0], r[1]
}

func testConfig() config.GCConfig {
	return config.GCConfig{
		Enabled:         true,
		Interval:        5 * time.Millisecond,
		SamplesPerCheck: 20,
		MatchThreshold:  0.25,
		MaxRounds:       4,
	}
}

func TestCycle_Repeat(t *testing.T) {
	tests := []struct {
		name       string
		results    [][2]int
		wantRounds int
		wantExp    int
	}{
		{"empty keyspace", nil, 1, 0},
		{"below threshold stops", [][2]int{{20, 2}, {20, 20}}, 1, 2},
		{"at threshold stops", [][2]int{{20, 5}, {20, 20}}, 1, 5},
		{"above threshold repeats", [][2]int{{20, 20}, {20, 10}, {20, 1}}, 3, 31},
		{"bounded by max rounds", [][2]int{{20, 20}, {20, 20}, {20, 20}, {20, 20}, {20, 20}}, 4, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := &scripted{results: tt.results}
			res := NewSweeper(ks, testConfig(), nil).Cycle()

			assert.Equal(t, tt.wantRounds, res.Rounds)
			assert.Equal(t, tt.wantExp, res.Expired)
			assert.Equal(t, tt.wantRounds, ks.calls)
		})
	}
}

func TestCycle_ObserveOnlyProductive(t *testing.T) {
	var seen []CycleResult
	s := NewSweeper(&scripted{results: [][2]int{{10, 0}}}, testConfig(), nil)
	s.OnCycle(func(r CycleResult) { seen = append(seen, r) })

	s.Cycle()
	assert.Empty(t, seen)

	s.ks = &scripted{results: [][2]int{{10, 1}}}
	s.Cycle()
	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].Expired)
}

func TestRun_ReclaimsUntouchedKeys(t *testing.T) {
	st := storage.NewMapStorage()
	for i := 0; i < 100; i++ {
		st.Set("tmp:"+strconv.Itoa(i), "v", storage.SetOptions{TTL: time.Millisecond})
	}
	st.Set("keep", "v", storage.SetOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(st, testConfig(), nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return st.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.True(t, st.Exists("keep"))
	assert.Equal(t, uint64(100), st.Stats().ExpiredActive)
}

func TestRun_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	done := make(chan struct{})
	go func() {
		NewSweeper(&scripted{}, cfg, nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}
