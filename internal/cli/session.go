package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/tools"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage conversational sessions",
}

// sessionTool is a session tool taking only a session id.
type sessionTool func(*tools.Toolkit, context.Context, tools.Invocation, tools.SessionArgs) tools.Result

// sessionTransition builds a subcommand for a sessionTool. The id defaults
// to --session.
func sessionTransition(use, short string, tool sessionTool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var a tools.SessionArgs
			if len(args) > 0 {
				a.SessionID = args[0]
			}
			reg := openRegistry(cmd)
			finish(reg, tool(toolkit(reg), cmd.Context(), invocation(), a))
		},
	}
}

func init() {
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a session for the user",
		Run:   runSessionCreate,
	}
	create.Flags().Int("ttl", -1, "TTL in seconds (default from config)")
	create.Flags().String("meta", "", "JSON metadata")

	get := sessionTransition("get", "Show a session", (*tools.Toolkit).GetSession)
	activate := sessionTransition("activate", "Start a CREATED session", (*tools.Toolkit).ActivateSession)
	pause := sessionTransition("pause", "Pause an active session", (*tools.Toolkit).PauseSession)
	resume := sessionTransition("resume", "Resume a paused session", (*tools.Toolkit).ResumeSession)
	closeCmd := sessionTransition("close", "Close a session", (*tools.Toolkit).CloseSession)

	say := &cobra.Command{
		Use:   "say [content]",
		Short: "Append a message to the session log",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSessionSay,
	}
	say.Flags().String("role", "user", "Message role")
	say.Flags().String("meta", "", "JSON metadata")

	messages := &cobra.Command{
		Use:   "messages",
		Short: "Show the tail of the session log",
		Run:   runSessionMessages,
	}
	messages.Flags().IntP("limit", "l", 0, "Last N messages (0 = all)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the user's sessions, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, toolkit(reg).UserSessions(cmd.Context(), invocation(), tools.NoArgs{}))
		},
	}
	active := &cobra.Command{
		Use:   "active",
		Short: "Show the user's most recent live session",
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, toolkit(reg).ActiveSession(cmd.Context(), invocation(), tools.NoArgs{}))
		},
	}
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate the user's sessions",
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, toolkit(reg).SessionSummary(cmd.Context(), invocation(), tools.NoArgs{}))
		},
	}
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Close every expired session",
		Run: func(cmd *cobra.Command, args []string) {
			reg := openRegistry(cmd)
			finish(reg, toolkit(reg).CleanupSessions(cmd.Context(), invocation(), tools.NoArgs{}))
		},
	}

	sessionCmd.AddCommand(create, get, activate, pause, resume, closeCmd, say, messages, list, active, summary, cleanup)
	RootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) {
	ttl, _ := cmd.Flags().GetInt("ttl")
	a := tools.CreateSessionArgs{Metadata: jsonFlag(cmd, "meta")}
	if ttl >= 0 {
		a.TTLSeconds = &ttl
	}
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).CreateSession(cmd.Context(), invocation(), a))
}

func runSessionSay(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).AddMessage(cmd.Context(), invocation(), tools.AddMessageArgs{
		Role:     role,
		Content:  strings.Join(args, " "),
		Metadata: jsonFlag(cmd, "meta"),
	}))
}

func runSessionMessages(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	reg := openRegistry(cmd)
	finish(reg, toolkit(reg).Messages(cmd.Context(), invocation(), tools.MessagesArgs{Limit: limit}))
}
