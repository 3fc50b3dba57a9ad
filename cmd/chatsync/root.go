package main

import (
	"fmt"
	"strconv"
	"strings"

	"chatsync/cmd/internal/app"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "chatsync",
		Short: "Message and dialog sync engine with an admin API",
		Long: `chatsync keeps a local, consistent copy of the dialogs and message histories of one chat
account and serves it over a small HTTP API. Without a subcommand it runs the service.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(configPath)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $CHATSYNC_CONFIG)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(configPath)
		},
	}

	root.AddCommand(serve)
	root.AddCommand(newAdminCmds()...)
	return root
}

func newAdminCmds() []*cobra.Command {
	var addr string
	bind := func(cmd *cobra.Command) *cobra.Command {
		cmd.Flags().StringVar(&addr, "addr", app.EnvString("ADMIN_URL", "http://127.0.0.1:8090"), "admin API base URL")
		return cmd
	}

	dialogs := bind(&cobra.Command{
		Use:   "dialogs",
		Short: "List dialogs of a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newAdminClient(addr).get(cmd.Context(), cmd.OutOrStdout(), "/v1/dialogs")
		},
	})

	var limit int
	var offsetID int64
	history := bind(&cobra.Command{
		Use:   "history PEER",
		Short: "Print a window of a peer's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/v1/peers/%d/history?limit=%d&offset_id=%d", peer, limit, offsetID)
			return newAdminClient(addr).get(cmd.Context(), cmd.OutOrStdout(), path)
		},
	})
	history.Flags().IntVar(&limit, "limit", 20, "messages to return")
	history.Flags().Int64Var(&offsetID, "offset-id", 0, "local id to page from")

	var silent bool
	send := bind(&cobra.Command{
		Use:   "send PEER TEXT...",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"text": strings.Join(args[1:], " "), "silent": silent}
			return newAdminClient(addr).post(cmd.Context(), cmd.OutOrStdout(), fmt.Sprintf("/v1/peers/%d/messages", peer), body)
		},
	})
	send.Flags().BoolVar(&silent, "silent", false, "send without notification")

	read := bind(&cobra.Command{
		Use:   "read PEER MAX_ID",
		Short: "Mark a peer's history read up to MAX_ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			maxID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid MAX_ID %q", args[1])
			}
			return newAdminClient(addr).post(cmd.Context(), cmd.OutOrStdout(), fmt.Sprintf("/v1/peers/%d/read", peer), map[string]int64{"max_id": maxID})
		},
	})

	return []*cobra.Command{dialogs, history, send, read}
}

func parsePeer(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid PEER %q", s)
	}
	return n, nil
}
