package parallel

import (
	"testing"

	"github.com/droverhq/drover/internal/config"
)

func TestChooseStrategyAuto(t *testing.T) {
	tests := []struct {
		agents int
		want   Strategy
	}{
		{1, StrategyDirect},
		{4, StrategyDirect},
		{5, StrategyQueue},
		{50, StrategyQueue},
		{51, StrategyPR},
	}
	for _, tt := range tests {
		if got := ChooseStrategy("auto", tt.agents); got != tt.want {
			t.Errorf("ChooseStrategy(auto, %d) = %s, want %s", tt.agents, got, tt.want)
		}
	}
}

func TestChooseStrategyExplicitWins(t *testing.T) {
	if got := ChooseStrategy("pr", 1); got != StrategyPR {
		t.Errorf("explicit pr overridden: got %s", got)
	}
	if got := ChooseStrategy("direct", 100); got != StrategyDirect {
		t.Errorf("explicit direct overridden: got %s", got)
	}
}

func TestChooseStrategyUnknownFallsBackToAuto(t *testing.T) {
	if got := ChooseStrategy("yolo", 2); got != StrategyDirect {
		t.Errorf("unknown strategy should select by agent count, got %s", got)
	}
}

func TestSafeMaxAgentsForMemory(t *testing.T) {
	cfg := config.ParallelConfig{PerAgentMemoryMB: 1024, ReserveMemoryMB: 2048}

	tests := []struct {
		availableMB int
		want        int
	}{
		{8192, 6},  // (8192-2048)/1024
		{3072, 1},  // exactly one agent's worth after reserve
		{2048, 1},  // nothing left, clamp to one
		{0, 1},     // unreadable meminfo, clamp to one
		{10240, 8}, // (10240-2048)/1024
	}
	for _, tt := range tests {
		if got := safeMaxAgentsForMemory(tt.availableMB, cfg); got != tt.want {
			t.Errorf("safeMaxAgentsForMemory(%d) = %d, want %d", tt.availableMB, got, tt.want)
		}
	}
}

func TestSafeMaxAgentsConfiguredCountWins(t *testing.T) {
	cfg := config.ParallelConfig{MaxAgents: 3, PerAgentMemoryMB: 1024, ReserveMemoryMB: 2048}
	if got := SafeMaxAgents(cfg); got != 3 {
		t.Errorf("SafeMaxAgents = %d, want configured 3", got)
	}
}

func TestParseMeminfoKB(t *testing.T) {
	if got := parseMeminfoKB("MemAvailable:    8388608 kB"); got != 8388608 {
		t.Errorf("parseMeminfoKB = %d, want 8388608", got)
	}
	if got := parseMeminfoKB("garbage"); got != 0 {
		t.Errorf("parseMeminfoKB on garbage = %d, want 0", got)
	}
}
