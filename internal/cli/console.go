package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/MeetLink/internal/client/mesh"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// participant is the part of the coordinator the console drives.
type participant interface {
	ToggleTrack(kind webrtc.RTPCodecType) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	SendMessage(text string) (domain.ChatMessage, error)
	Peers() []mesh.PeerInfo
}

const helpText = `/mute   toggle microphone
/video  toggle camera
/share  toggle screen sharing
/peers  list connected participants
/leave  leave the room
anything else is sent as chat`

// runConsole reads commands until /leave, end of input or ctx is done.
func runConsole(ctx context.Context, p participant, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if done := handleLine(ctx, p, strings.TrimSpace(line), out); done {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, p participant, line string, out io.Writer) bool {
	switch line {
	case "":
	case "/leave", "/quit":
		return true
	case "/help":
		fmt.Fprintln(out, helpText)
	case "/mute":
		on, err := p.ToggleTrack(webrtc.RTPCodecTypeAudio)
		report(out, "microphone", on, err)
	case "/video":
		on, err := p.ToggleTrack(webrtc.RTPCodecTypeVideo)
		report(out, "camera", on, err)
	case "/share":
		on, err := p.ToggleScreenShare(ctx)
		report(out, "screen share", on, err)
	case "/peers":
		peers := p.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(out, "* nobody else here")
		}
		for _, info := range peers {
			fmt.Fprintf(out, "* %s %s (%s)\n", info.ID, info.State, info.Role)
		}
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "* unknown command %s\n", line)
			return false
		}
		if _, err := p.SendMessage(line); err != nil {
			fmt.Fprintf(out, "* message not sent: %v\n", err)
		}
	}
	return false
}

func report(out io.Writer, what string, on bool, err error) {
	if err != nil {
		fmt.Fprintf(out, "* %s: %v\n", what, err)
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(out, "* %s %s\n", what, state)
}
