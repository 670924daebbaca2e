package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/tools"
)

var opCmd = &cobra.Command{
	Use:   "op",
	Short: "Track pausable long-running operations",
}

// opTool is an operation tool taking only an operation id.
type opTool func(*tools.Toolkit, context.Context, tools.Invocation, tools.OperationArgs) tools.Result

func opByID(use, short string, tool opTool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [operation-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, tool(toolkit(reg), cmd.Context(), invocation(), tools.OperationArgs{OperationID: args[0]}))
		},
	}
}

func init() {
	start := &cobra.Command{
		Use:   "start [task description]",
		Short: "Create and start an operation",
		Run:   runOpStart,
	}
	start.Flags().String("agent", "", "Agent running the task (required)")
	start.Flags().Int("estimate", 0, "Estimated duration in minutes (default 30)")
	start.Flags().String("meta", "", "JSON metadata")
	start.MarkFlagRequired("agent")

	progress := &cobra.Command{
		Use:   "progress [operation-id] [percent]",
		Short: "Record progress",
		Args:  cobra.ExactArgs(2),
		Run:   runOpProgress,
	}
	progress.Flags().String("state", "", "JSON state to store")

	pause := &cobra.Command{
		Use:   "pause [operation-id]",
		Short: "Pause a running operation and checkpoint it",
		Args:  cobra.ExactArgs(1),
		Run:   runOpPause,
	}
	pause.Flags().String("reason", "", "Why the operation paused")
	pause.Flags().String("state", "", "JSON checkpoint state (default: current state)")

	complete := &cobra.Command{
		Use:   "complete [operation-id]",
		Short: "Finish an operation",
		Args:  cobra.ExactArgs(1),
		Run:   runOpComplete,
	}
	complete.Flags().String("result", "", "JSON result")

	fail := &cobra.Command{
		Use:   "fail [operation-id] [message]",
		Short: "Mark an operation failed",
		Args:  cobra.MinimumNArgs(2),
		Run:   runOpFail,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the user's operations, newest first",
		Run:   runOpList,
	}
	list.Flags().String("status", "", "Filter by status")
	list.Flags().String("agent", "", "Filter by agent")

	paused := &cobra.Command{
		Use:   "paused",
		Short: "List the user's paused operations",
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, toolkit(reg).ListPausedOperations(cmd.Context(), invocation(), tools.NoArgs{}))
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed operations past retention",
		Run:   runOpCleanup,
	}
	cleanup.Flags().Int("days", 0, "Retention in days (default from config)")

	opCmd.AddCommand(
		start,
		opByID("status", "Show an operation", (*tools.Toolkit).OperationStatus),
		progress,
		pause,
		opByID("resume", "Resume a paused operation from its last checkpoint", (*tools.Toolkit).ResumeOperation),
		complete,
		fail,
		opByID("cancel", "Cancel an operation", (*tools.Toolkit).CancelOperation),
		list,
		paused,
		opByID("history", "Show an operation's audit log", (*tools.Toolkit).OperationHistory),
		opByID("checkpoints", "List an operation's checkpoints", (*tools.Toolkit).OperationCheckpoints),
		cleanup,
	)
	RootCmd.AddCommand(opCmd)
}

func runOpStart(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")
	estimate, _ := cmd.Flags().GetInt("estimate")

	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).StartOperation(cmd.Context(), invocation(), tools.StartOperationArgs{
		AgentName:                agent,
		TaskDescription:          strings.Join(args, " "),
		EstimatedDurationMinutes: estimate,
		Metadata:                 jsonFlag(cmd, "meta"),
	}))
}

func runOpProgress(cmd *cobra.Command, args []string) {
	pct, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		exitErr("parse percent", err)
	}
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).UpdateProgress(cmd.Context(), invocation(), tools.UpdateProgressArgs{
		OperationID: args[0],
		Progress:    pct,
		State:       jsonFlag(cmd, "state"),
	}))
}

func runOpPause(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).PauseOperation(cmd.Context(), invocation(), tools.PauseOperationArgs{
		OperationID:     args[0],
		Reason:          reason,
		CheckpointState: jsonFlag(cmd, "state"),
	}))
}

func runOpComplete(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).CompleteOperation(cmd.Context(), invocation(), tools.CompleteOperationArgs{
		OperationID: args[0],
		Result:      jsonFlag(cmd, "result"),
	}))
}

func runOpFail(cmd *cobra.Command, args []string) {
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).FailOperation(cmd.Context(), invocation(), tools.FailOperationArgs{
		OperationID:  args[0],
		ErrorMessage: strings.Join(args[1:], " "),
	}))
}

func runOpList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	agent, _ := cmd.Flags().GetString("agent")
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).ListOperations(cmd.Context(), invocation(), tools.ListOperationsArgs{
		Status:    status,
		AgentName: agent,
	}))
}

func runOpCleanup(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	reg := openRegistry(cmd)
	if days <= 0 {
		days = reg.Config.Operations.RetentionDays
	}
	finish(reg, toolkit(reg).CleanupOperations(cmd.Context(), invocation(), tools.CleanupOperationsArgs{Days: days}))
}
