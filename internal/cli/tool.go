package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "tool [name] [json args]",
		Short: "Invoke an agent tool by name",
		Long: "Invoke an agent tool by name with JSON arguments, exactly as an agent runtime would. " +
			"Arguments come from the second positional arg or stdin. Without a name, lists every tool.",
		Args: cobra.MaximumNArgs(2),
		Run:  runTool,
	}

	RootCmd.AddCommand(cmd)
}

func runTool(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		fmt.Println(strings.Join(tools.Names(), "\n"))
		return
	}

	var raw []byte
	if len(args) > 1 {
		raw = []byte(args[1])
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			raw = b
		}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = nil
	}

	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).Invoke(cmd.Context(), invocation(), args[0], json.RawMessage(raw)))
}
