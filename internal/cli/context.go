package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/tools"
	"github.com/rcliao/ecoagent-memory/internal/window"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Recall relevant memories into a context window",
		Long:  "Rank the user's memories against a query, then pack the best into a window's token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().String("min-importance", "low", "Minimum importance")
	cmd.Flags().String("as", "metadata", "Context type recalled items are stored under")
	cmd.Flags().IntP("budget", "b", 0, "Max tokens (default: context.max_window_size)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	minImportance, _ := cmd.Flags().GetString("min-importance")
	as, _ := cmd.Flags().GetString("as")
	budget, _ := cmd.Flags().GetInt("budget")

	reg := openRegistry(cmd)
	newWindow := reg.NewWindow
	if budget > 0 {
		newWindow = func() *window.Window {
			return window.New(window.Config{MaxSize: budget, Now: reg.Now}, reg.Logger)
		}
	}
	k := tools.New(tools.Deps{
		Memories:  reg.Memories,
		Sessions:  reg.Sessions,
		Metrics:   reg.Metrics,
		NewWindow: newWindow,
		Now:       reg.Now,
	}, reg.Logger)

	finish(reg, k.RecallMemories(cmd.Context(), invocation(), tools.RecallMemoriesArgs{
		SearchMemoriesArgs: tools.SearchMemoriesArgs{
			Query:         strings.Join(args, " "),
			MemoryType:    typ,
			Tags:          splitTags(tags),
			MinImportance: minImportance,
		},
		ContextType: as,
	}))
}
