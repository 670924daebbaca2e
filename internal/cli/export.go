package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the user's memories as JSON",
		Long:  "Export every memory of --user, keeping ids, timestamps and access counts. Feed the output to import.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	defer reg.Close()

	user := invocation().UserID
	if user == "" {
		user = model.UnknownUser
	}
	exp, err := store.ExportUser(cmd.Context(), reg.Memories, user, reg.Now())
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(exp, "", "  ")
	fmt.Println(string(b))
}
