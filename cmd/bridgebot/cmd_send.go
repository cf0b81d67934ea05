package main

import (
	"fmt"
	"strings"

	"bridgebot/internal/bridge"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sendBatch bool

// sendCmd runs one message through the dispatcher
var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Run one message and print the output",
	Long: `Runs one inbound message through the same dispatcher the server uses and prints the
result to stdout. Output streams as it arrives unless --batch is given.

Example:
  bridgebot send "/bridge gpt-4o claude-3-5-sonnet 6: Debate tabs versus spaces."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendBatch, "batch", false, "Print the full transcript once the session ends")
}

func runSend(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	conv := conversationID
	if conv == "" {
		conv = uuid.NewString()
	}
	in := bridge.Inbound{
		ConversationID: conv,
		Text:           strings.Join(args, " "),
		Stream:         !sendBatch,
	}

	out := cmd.OutOrStdout()
	seq := svc.Handle(cmd.Context(), in)
	if sendBatch {
		_, err := fmt.Fprintln(out, bridge.Transcript(seq))
		return err
	}
	for f := range seq {
		if _, err := fmt.Fprint(out, bridge.RenderStream(f)); err != nil {
			return err
		}
	}
	return nil
}
