package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/cache"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/tui"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts and sizes",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict [agent-id]",
	Short: "Remove every cache entry, or one agent's entries",
	Long: `Remove cache entries. With an agent ID such as "security.groq" only that
agent's entries are removed; without one the whole cache is cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheEvict,
}

var cacheExpiredCmd = &cobra.Command{
	Use:   "expired",
	Short: "Remove entries whose TTL has passed",
	Args:  cobra.NoArgs,
	RunE:  runCacheExpired,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheEvictCmd, cacheExpiredCmd)
}

func openCache() (*cache.Cache, func() error, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return requireCache(cfg, newLogger(cfg))
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	c, closeFn, err := openCache()
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printStats(cmd.OutOrStdout(), stats)
}

func printStats(w io.Writer, stats cache.Stats) error {
	p, mode, _ := printer(w)
	if mode == tui.ModeJSON {
		return json.NewEncoder(w).Encode(stats)
	}
	view := tui.CacheStats{
		Total:   stats.Total,
		Active:  stats.Active,
		Expired: stats.Expired,
		Bytes:   stats.Bytes,
		Oldest:  stats.Oldest,
		Newest:  stats.Newest,
	}
	for _, id := range stats.Agents() {
		a := stats.PerAgent[id]
		view.Agents = append(view.Agents, tui.AgentCount{Agent: id, Active: a.Active, Expired: a.Expired, Bytes: a.Bytes})
	}
	p.Stats(view)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	c, closeFn, err := openCache()
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	agent := ""
	if len(args) == 1 {
		agent = args[0]
	}
	n, err := c.Evict(cmd.Context(), agent)
	if err != nil {
		return err
	}
	what := "entries evicted"
	if agent != "" {
		what = fmt.Sprintf("entries evicted for %s", agent)
	}
	return printEvicted(cmd.OutOrStdout(), n, agent, what)
}

func runCacheExpired(cmd *cobra.Command, _ []string) error {
	c, closeFn, err := openCache()
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	n, err := c.EvictExpired(cmd.Context())
	if err != nil {
		return err
	}
	return printEvicted(cmd.OutOrStdout(), n, "", "expired entries removed")
}

func printEvicted(w io.Writer, n int, agent, what string) error {
	p, mode, _ := printer(w)
	if mode == tui.ModeJSON {
		return json.NewEncoder(w).Encode(map[string]any{"agent": agent, "evicted": n})
	}
	p.Evicted(n, what)
	return nil
}
