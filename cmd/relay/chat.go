package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/domain"
	"github.com/HMasataka/wsrelay/pkg/transport/websocket"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to a relay; stdin lines are sent, received messages are printed",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringP("url", "u", "ws://localhost:8080/ws", "relay WebSocket URL")
}

func runChat(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = "warn"
	}
	logger := logging.New(logging.Config{Level: level, Format: "text"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, _, err := gorillaws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}

	conn := websocket.NewConnection(xid.New().String(), ws, logger, websocket.DefaultConnectionOptions())
	conn.OnFrame(func(frame domain.Frame) {
		if frame.Kind == domain.FrameBinary {
			fmt.Printf("< [%d bytes binary]\n", len(frame.Data))
			return
		}
		fmt.Printf("< %s\n", frame.Data)
	})
	conn.Start()
	defer func() {
		conn.Close()
		conn.Wait()
	}()

	fmt.Fprintf(os.Stderr, "connected to %s, type a message and press enter\n", url)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Context().Done():
			return fmt.Errorf("relay closed the connection")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := conn.Send(ctx, domain.TextFrame(line)); err != nil {
				logger.Warn("send failed", "error", err)
			}
		}
	}
}
