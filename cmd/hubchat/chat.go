package main

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/hubchat/pkg/chat"
	"github.com/go-go-golems/hubchat/pkg/config"
	"github.com/go-go-golems/hubchat/pkg/hub"
	"github.com/go-go-golems/hubchat/pkg/reveal"
	"github.com/go-go-golems/hubchat/pkg/tui"
)

func newChatCommand() *cobra.Command {
	var (
		hubURL string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if hubURL != "" {
				cfg.HubURL = hubURL
			}
			if mode != "" {
				cfg.DefaultMode = mode
			}

			// The TUI owns the terminal, so console logging has to go.
			if flagLogFile == "" {
				log.Logger = zerolog.New(io.Discard)
			}

			return runChat(cfg)
		},
	}

	cmd.Flags().StringVar(&hubURL, "hub-url", "", "websocket endpoint of the chat hub")
	cmd.Flags().StringVar(&mode, "mode", "", "agent mode for new conversations")
	return cmd
}

func runChat(cfg config.Config) error {
	agentMode, err := hub.ParseMode(cfg.DefaultMode)
	if err != nil {
		return err
	}

	conn, err := hub.NewConn(hub.ConnConfig{URL: cfg.HubURL})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	store := chat.NewStore()
	engine := reveal.NewEngine(reveal.Config{TypingSpeed: cfg.TypingSpeed()})
	coord, err := chat.NewCoordinator(chat.CoordinatorConfig{
		Client: conn,
		Store:  store,
		Engine: engine,
		Mode:   agentMode,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect to hub")
	}

	first := store.CreateChat("")
	if err := coord.ActivateSession(ctx, first.ID); err != nil {
		return err
	}

	model, err := tui.New(tui.Config{
		Conn:        conn,
		Store:       store,
		Engine:      engine,
		Coordinator: coord,
		Logger:      log.Logger,
	})
	if err != nil {
		return err
	}

	prog := tea.NewProgram(model, tea.WithAltScreen())
	_, err = prog.Run()
	return err
}
