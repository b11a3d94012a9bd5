// Package cli implements the meet command: a line-oriented mesh participant.
package cli

import (
	"fmt"
	"os"

	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the command tree around v so flags and the config file
// share one set of keys.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "meet",
		Short: "Join MeetLink video rooms from the terminal",
		Long: `meet joins a MeetLink room as a full-mesh WebRTC participant.

Examples:
  meet new
  meet join 3f9a1c2e --name Ann
  meet join standup --server ws://meet.example.org/api/ws/signal`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.String("server", "", "relay WebSocket URL (client.server_url)")
	flags.String("log-level", "", "log level (log_level)")
	_ = v.BindPFlag("client.server_url", flags.Lookup("server"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	root.AddCommand(newJoinCmd(v), newRoomCmd(v))
	return root
}

// Execute runs the meet command. This is called by main.main().
func Execute() {
	logging.Setup("release", "warn")
	v := config.New()
	v.SetDefault("log_level", "warn")
	if err := NewRootCmd(v).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
