package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	defer reg.Close()

	if reg.SQLite == nil {
		exitErr("stats", fmt.Errorf("stats need the sqlite backend, got %q", reg.Config.Backend))
	}
	stats, err := reg.SQLite.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
