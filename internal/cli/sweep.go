package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance: close expired sessions, reap old operations, consolidate memories",
		Long: "Nothing requires a sweep for correctness since expiry is evaluated on read; " +
			"it only keeps storage from growing. Safe to run from cron.",
		Run: runSweep,
	}

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	defer reg.Close()

	report, err := reg.Sweep(cmd.Context())
	if err != nil {
		exitErr("sweep", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
