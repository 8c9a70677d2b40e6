// Package parallel runs multiple driver instances in isolated worktrees
// and merges their results back serially.
package parallel

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/droverhq/drover/internal/config"
)

// Strategy selects how completed agent branches reach the target branch.
type Strategy string

const (
	// StrategyDirect merges each branch immediately after its session.
	StrategyDirect Strategy = "direct"
	// StrategyQueue serializes merges through a single queue.
	StrategyQueue Strategy = "queue"
	// StrategyPR leaves branches in place for pull-request review.
	StrategyPR Strategy = "pr"
)

// Agent-count thresholds for automatic strategy selection. Small crews
// merge directly, mid-size crews serialize, anything larger goes
// through review.
const (
	directMaxAgents = 4
	queueMaxAgents  = 50
)

// ChooseStrategy resolves the configured merge strategy. "auto" picks
// by agent count.
func ChooseStrategy(configured string, agents int) Strategy {
	switch Strategy(configured) {
	case StrategyDirect, StrategyQueue, StrategyPR:
		return Strategy(configured)
	}
	switch {
	case agents <= directMaxAgents:
		return StrategyDirect
	case agents <= queueMaxAgents:
		return StrategyQueue
	default:
		return StrategyPR
	}
}

// SafeMaxAgents derives an agent count from available memory: what is
// left after the reserve, divided by the per-agent budget, never below
// one. A configured non-zero count wins.
func SafeMaxAgents(cfg config.ParallelConfig) int {
	if cfg.MaxAgents > 0 {
		return cfg.MaxAgents
	}
	return safeMaxAgentsForMemory(availableMemoryMB(), cfg)
}

func safeMaxAgentsForMemory(availableMB int, cfg config.ParallelConfig) int {
	perAgent := cfg.PerAgentMemoryMB
	if perAgent <= 0 {
		return 1
	}
	n := (availableMB - cfg.ReserveMemoryMB) / perAgent
	if n < 1 {
		return 1
	}
	return n
}

// availableMemoryMB reads MemAvailable from /proc/meminfo, falling back
// to MemTotal. Returns 0 when neither can be read.
func availableMemoryMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	total := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemAvailable:") {
			return parseMeminfoKB(line) / 1024
		}
		if strings.HasPrefix(line, "MemTotal:") {
			total = parseMeminfoKB(line) / 1024
		}
	}
	return total
}

func parseMeminfoKB(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return kb
}
