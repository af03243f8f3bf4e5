// Command qqbridge runs the QQ-to-Claude bridge: a webhook listener that
// routes each QQ sender's messages to a long-lived local Claude CLI session
// and relays the responses back.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/claude"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/config"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/logging"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/qq"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "qqbridge",
		Short:         "Bridge QQ bot messages to local Claude CLI sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(os.Stderr, cfg.LogLevel)

	qqClient := qq.NewClient(qq.Options{
		Logger:         log,
		BotAccountID:   cfg.QQAppID,
		BotToken:       cfg.QQBotToken,
		BaseURL:        cfg.QQAPIBaseURL,
		CallbackSecret: cfg.QQCallbackSecret,
	})

	manager := claude.NewManager(claude.Options{
		Command:         cfg.ClaudeCommand,
		RequestTimeout:  cfg.RequestTimeout,
		IdleTimeout:     cfg.SessionIdleTimeout,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          log,
	})
	defer manager.Close()

	bridge := server.NewBridge(log, qqClient, manager)
	srv := server.New(log, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), bridge)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
