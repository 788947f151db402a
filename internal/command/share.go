package command

import (
	"fmt"
	"os"

	"github.com/collabterm/collabterm/pkg/project"
	"github.com/collabterm/collabterm/pkg/terminal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shareRelayURL string
var shareSecret string
var shareWorkingDirectory string

func share(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	secret := shareSecret
	if secret == "" {
		secret = uuid.New().String()
	}

	workingDirectory := shareWorkingDirectory
	if workingDirectory == "" {
		workingDirectory, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()

	hostProject, err := project.Share(ctx, shareRelayURL, secret, project.WithLogger(logger))
	if err != nil {
		return err
	}
	defer hostProject.Close()

	hostTerminal, err := hostProject.CreateTerminal(workingDirectory, nil, project.TerminalConfig{
		Dimensions: terminal.DefaultDimensions(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("sharing project %d, join with secret %q\n", hostProject.ID(), secret)

	frames, cancel := hostTerminal.SubscribeFrames()
	defer cancel()

	go forwardStdin(hostTerminal.Input)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// The shell exited
				return nil
			}
			renderFrame(frame)
		case <-ctx.Done():
			return nil
		}
	}
}

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share [flags]",
		Short: "Share a local shell terminal with guests through a relay",
		RunE:  share,
	}

	cmd.PersistentFlags().StringVar(&shareRelayURL, "relay", "ws://127.0.0.1:8080",
		"relay websocket URL")
	cmd.PersistentFlags().StringVar(&shareSecret, "secret", "",
		"secret guests must present (a random one is generated when empty)")
	cmd.PersistentFlags().StringVar(&shareWorkingDirectory, "dir", "",
		"working directory for the shared shell (defaults to the current one)")

	return cmd
}
