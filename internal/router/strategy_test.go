package router

import (
	"testing"

	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func testDeployments(n int) []*Deployment {
	out := make([]*Deployment, n)
	for i := range out {
		out[i] = NewDeployment(string(rune('a'+i)), "m", &fakeProvider{name: string(rune('a' + i))})
	}
	return out
}

func TestSelector_RoundRobinCyclesInOrder(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(3)
	sc := SelectionContext{}
	var got []string
	for i := 0; i < 6; i++ {
		d, err := s.Select(Config{Kind: RoundRobin}, "m", sc, candidates)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		got = append(got, d.ID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pick %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSelector_SingleCandidateShortcuts(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(1)
	d, err := s.Select(Config{Kind: Custom}, "m", SelectionContext{}, candidates)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d != candidates[0] {
		t.Error("single-candidate select should shortcut regardless of strategy")
	}
}

func TestSelector_EmptyCandidatesErrors(t *testing.T) {
	s := NewSelector()
	if _, err := s.Select(Config{Kind: RoundRobin}, "m", SelectionContext{}, nil); err == nil {
		t.Error("expected error selecting from an empty candidate list")
	}
}

func TestSelector_PriorityPicksLowestValue(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(3)
	candidates[0].Priority = 5
	candidates[1].Priority = 1
	candidates[2].Priority = 3

	d, err := s.Select(Config{Kind: Priority}, "m", SelectionContext{}, candidates)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d != candidates[1] {
		t.Errorf("got %s, want the priority-1 deployment", d.ID)
	}
}

func TestSelector_LeastBusyPicksLowestActiveCount(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(2)
	candidates[0].incr()
	candidates[0].incr()

	d, err := s.Select(Config{Kind: LeastBusy}, "m", SelectionContext{}, candidates)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d != candidates[1] {
		t.Errorf("got %s, want the idle deployment", d.ID)
	}
}

func TestSelector_WeightedAlwaysPicksFromCandidateSet(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(2)
	candidates[0].Weight = 1000
	candidates[1].Weight = 0 // treated as 1, so still reachable; verify no panic and a valid pick

	for i := 0; i < 20; i++ {
		d, err := s.Select(Config{Kind: Weighted}, "m", SelectionContext{}, candidates)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if d != candidates[0] && d != candidates[1] {
			t.Fatal("weighted select returned a deployment outside the candidate set")
		}
	}
}

func TestSelector_ABTestIsStickyForSameRoutingKey(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(2)
	sc := SelectionContext{RoutingKey: "user-42"}

	first, _ := s.Select(Config{Kind: ABTest, SplitRatio: 0.5}, "m", sc, candidates)
	for i := 0; i < 5; i++ {
		d, _ := s.Select(Config{Kind: ABTest, SplitRatio: 0.5}, "m", sc, candidates)
		if d != first {
			t.Fatalf("ABTest with a fixed routing key should be sticky, got %s then %s", first.ID, d.ID)
		}
	}
}

func TestSelector_ConsistentHashIsStableAcrossCalls(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(4)
	sc := SelectionContext{RoutingKey: "session-7"}

	first, _ := s.Select(Config{Kind: ConsistentHash}, "m", sc, candidates)
	for i := 0; i < 10; i++ {
		d, _ := s.Select(Config{Kind: ConsistentHash}, "m", sc, candidates)
		if d.ID != first.ID {
			t.Fatalf("consistent hash should map the same key to the same deployment, got %s then %s", first.ID, d.ID)
		}
	}
}

func TestSelector_CustomScoresViaLua(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(2)
	candidates[0].Priority = 1
	candidates[1].Priority = 2
	sc := SelectionContext{
		Health:  health.NewSystem(),
		Metrics: metrics.NewRegistry(prometheus.NewRegistry()),
	}

	d, err := s.Select(Config{Kind: Custom, LuaScript: "score = 100 - priority"}, "m", sc, candidates)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d != candidates[0] {
		t.Errorf("got %s, want the lower-priority-number deployment (higher score)", d.ID)
	}
}

func TestSelector_CustomRequiresScript(t *testing.T) {
	s := NewSelector()
	candidates := testDeployments(2)
	sc := SelectionContext{Health: health.NewSystem(), Metrics: metrics.NewRegistry(prometheus.NewRegistry())}
	if _, err := s.Select(Config{Kind: Custom}, "m", sc, candidates); err == nil {
		t.Error("expected error when Custom strategy has no lua script")
	}
}
