package command

import (
	"fmt"
	"time"

	"github.com/collabterm/collabterm/pkg/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var attachRelayURL string
var attachProjectID uint64
var attachSecret string
var attachTerminalID uint64
var attachTimeout time.Duration

func attach(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()

	directoryChanged := make(chan struct{}, 1)
	notify := func() {
		select {
		case directoryChanged <- struct{}{}:
		default:
		}
	}

	guestProject, err := project.Join(ctx, attachRelayURL, attachProjectID, attachSecret,
		project.WithLogger(logger),
		project.WithNotify(notify),
	)
	if err != nil {
		return err
	}
	defer guestProject.Close()

	// The host advertises its terminals right after we join; wait for the
	// first directory update to learn about them
	deadline := time.NewTimer(attachTimeout)
	defer deadline.Stop()

	terminalID := attachTerminalID
	for terminalID == 0 {
		if shared := guestProject.SharedTerminals(); len(shared) > 0 {
			terminalID = shared[0]
			break
		}

		select {
		case <-directoryChanged:
		case <-deadline.C:
			return fmt.Errorf("no shared terminals appeared within %v", attachTimeout)
		case <-ctx.Done():
			return nil
		}
	}

	view, err := guestProject.OpenRemoteTerminal(ctx, terminalID, nil)
	if err != nil {
		return err
	}
	defer view.Close()

	renderFrame(view.LastContent())

	cancel := view.OnFrame(renderFrame)
	defer cancel()

	go forwardStdin(view.Input)

	<-ctx.Done()

	return nil
}

func newAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach [flags]",
		Short: "Attach to a shared terminal as a guest",
		RunE:  attach,
	}

	cmd.PersistentFlags().StringVar(&attachRelayURL, "relay", "ws://127.0.0.1:8080",
		"relay websocket URL")
	cmd.PersistentFlags().Uint64Var(&attachProjectID, "project", 0,
		"project to join")
	cmd.PersistentFlags().StringVar(&attachSecret, "secret", "",
		"secret the host trusts")
	cmd.PersistentFlags().Uint64Var(&attachTerminalID, "id", 0,
		"terminal to attach to (defaults to the first advertised one)")
	cmd.PersistentFlags().DurationVar(&attachTimeout, "timeout", 10*time.Second,
		"how long to wait for the host to advertise a terminal")

	return cmd
}
