package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/tools"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage the user's memory bank",
}

func init() {
	add := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runMemoryAdd,
	}
	add.Flags().String("type", "semantic", "Type: episodic, semantic, procedural, emotional, relational")
	add.Flags().StringP("importance", "p", "medium", "Importance: trivial, low, medium, high, critical")
	add.Flags().String("source", "cli", "Where the memory came from")
	add.Flags().StringP("tags", "t", "", "Comma-separated tags")
	add.Flags().String("context", "", "JSON context object")
	add.Flags().String("meta", "", "JSON metadata")

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank memories against a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runMemorySearch,
	}
	search.Flags().String("type", "", "Filter by type")
	search.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, any of)")
	search.Flags().String("min-importance", "low", "Minimum importance")

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory and record the access",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoryGet,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the user's memories, oldest first",
		Run:   runMemoryList,
	}
	list.Flags().String("type", "", "Filter by type")
	list.Flags().Int("recent-days", 0, "Only memories from the last N days")

	rm := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoryRm,
	}

	link := &cobra.Command{
		Use:   "link [from-id] [to-id]",
		Short: "Relate two memories",
		Args:  cobra.ExactArgs(2),
		Run:   runMemoryLink,
	}

	consolidate := &cobra.Command{
		Use:   "consolidate",
		Short: "Drop weak and duplicate memories",
		Run:   runMemoryConsolidate,
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count memories by type and importance",
		Run:   runMemorySummary,
	}

	memoryCmd.AddCommand(add, search, get, list, rm, link, consolidate, summary)
	RootCmd.AddCommand(memoryCmd)
}

func runMemoryAdd(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	importance, _ := cmd.Flags().GetString("importance")
	source, _ := cmd.Flags().GetString("source")
	tags, _ := cmd.Flags().GetString("tags")

	// Positional arg first, then stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("memory add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).AddMemory(cmd.Context(), invocation(), tools.AddMemoryArgs{
		Content:    strings.TrimSpace(content),
		MemoryType: typ,
		Importance: importance,
		Source:     source,
		Tags:       splitTags(tags),
		Context:    jsonFlag(cmd, "context"),
		Metadata:   jsonFlag(cmd, "meta"),
	}))
}

func runMemorySearch(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	minImportance, _ := cmd.Flags().GetString("min-importance")

	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).SearchMemories(cmd.Context(), invocation(), tools.SearchMemoriesArgs{
		Query:         strings.Join(args, " "),
		MemoryType:    typ,
		Tags:          splitTags(tags),
		MinImportance: minImportance,
	}))
}

func runMemoryGet(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).RetrieveMemory(cmd.Context(), invocation(), tools.MemoryIDArgs{MemoryID: args[0]}))
}

func runMemoryList(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	days, _ := cmd.Flags().GetInt("recent-days")

	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).UserMemories(cmd.Context(), invocation(), tools.UserMemoriesArgs{
		MemoryType: typ,
		RecentDays: days,
	}))
}

func runMemoryRm(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).DeleteMemory(cmd.Context(), invocation(), tools.MemoryIDArgs{MemoryID: args[0]}))
}

func runMemoryLink(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).LinkMemories(cmd.Context(), invocation(), tools.LinkMemoriesArgs{FromID: args[0], ToID: args[1]}))
}

func runMemoryConsolidate(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).ConsolidateMemories(cmd.Context(), invocation(), tools.NoArgs{}))
}

func runMemorySummary(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).MemorySummary(cmd.Context(), invocation(), tools.NoArgs{}))
}
