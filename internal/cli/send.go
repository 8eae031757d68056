package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/robinmin/ccbridge/internal/control"
)

var (
	sendWorkspace string
	sendChatID    string
)

var sendCmd = &cobra.Command{
	Use:   "send [prompt]",
	Short: "Dispatch a single prompt to the agent and print the response",
	Args:  cobra.ExactArgs(1),
	Run:   runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendWorkspace, "workspace", "default", "workspace for the request")
	sendCmd.Flags().StringVar(&sendChatID, "chat", "", "chat id to associate with the request")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewBridge(cfg)
	if err != nil {
		slog.Error("Failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.IPC.RequestTimeout+10*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start bridge", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = app.Stop(shutdownCtx)
	}()

	body, err := json.Marshal(map[string]string{"prompt": args[0]})
	if err != nil {
		slog.Error("Failed to encode prompt", "error", err)
		os.Exit(1)
	}

	resp, err := app.Dispatch(ctx, control.DispatchInput{
		ChatID:    sendChatID,
		Workspace: sendWorkspace,
		Prompt:    args[0],
		Body:      body,
	})
	if err != nil {
		slog.Error("Dispatch failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}
