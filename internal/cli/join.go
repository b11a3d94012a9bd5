package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/MeetLink/internal/adapters/rtc"
	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/client/mesh"
	"github.com/dkeye/MeetLink/internal/client/signaling"
	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagName      string
	flagNoDisplay bool
)

func newJoinCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and chat with its participants",
		Long: `Join a room as a mesh participant. Lines typed are sent as chat;
commands start with a slash: /mute /video /share /peers /leave /help.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Mode, cfg.LogLevel)
			return joinRoom(cmd.Context(), cfg, domain.RoomID(args[0]), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	cmd.Flags().BoolVar(&flagNoDisplay, "no-display", false, "disable screen sharing")
	return cmd
}

func joinRoom(ctx context.Context, cfg *config.Config, room domain.RoomID, in io.Reader, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	serverURL := cfg.Client.ServerURL
	co := mesh.New(mesh.Options{
		Client:   cfg.Client,
		Capturer: &media.SampleCapturer{NoDisplay: flagNoDisplay},
		Dial: func(ctx context.Context) (mesh.SignalConn, error) {
			return signaling.Dial(ctx, serverURL)
		},
		Transports: rtc.NewFactory(api, rtc.ICEServers(cfg.ICE)),
	})

	self := func() domain.SessionID { return co.SessionID() }
	co.OnMessage(func(m domain.ChatMessage) {
		if m.Sender == self() {
			return
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), senderLabel(m), m.Text)
	})
	co.OnPeerJoined(func(m domain.Member) {
		fmt.Fprintf(out, "* %s joined\n", m.DisplayName)
	})
	co.OnPeerLeft(func(id domain.SessionID) {
		fmt.Fprintf(out, "* %s left\n", id)
	})
	co.OnPeerFailed(func(f mesh.PeerFailure) {
		fmt.Fprintf(out, "* connection to %s failed: %v\n", f.Peer, f.Err)
	})
	co.OnRemoteStream(func(e mesh.RemoteStreamEvent) {
		fmt.Fprintf(out, "* receiving media from %s\n", e.Peer)
	})
	ended := make(chan error, 1)
	co.OnSessionEnded(func(e mesh.SessionEnd) {
		fmt.Fprintf(out, "* disconnected from %s: %v\n", e.Room, e.Err)
		select {
		case ended <- e.Err:
		default:
		}
		cancel()
	})

	if err := co.JoinRoom(ctx, room, flagName); err != nil {
		return err
	}
	fmt.Fprintf(out, "joined %s (type /help for commands)\n", room)

	err = runConsole(ctx, co, in, out)
	select {
	case lost := <-ended:
		return lost
	default:
	}
	if lerr := co.LeaveRoom(); lerr != nil && !errors.Is(lerr, mesh.ErrNotJoined) {
		return errors.Join(err, lerr)
	}
	return err
}

func senderLabel(m domain.ChatMessage) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return string(m.Sender)
}
