package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/HMasataka/wsrelay/internal/config"
	"github.com/HMasataka/wsrelay/internal/logging"
	"github.com/HMasataka/wsrelay/pkg/peer"
	"github.com/HMasataka/wsrelay/pkg/signaling"
)

const dataChannelLabel = "chat"

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "WebRTC data-channel peer that signals through a relay",
	Long: `peer joins a relay, announces itself with a hello, and either offers a
data channel to another peer (--target) or waits to answer one. Once the
channel opens, stdin lines are sent to the remote peer.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringP("url", "u", "ws://localhost:8080/ws", "relay WebSocket URL")
	rootCmd.Flags().String("id", "", "peer ID (generated when empty)")
	rootCmd.Flags().StringP("target", "t", "", "peer ID to offer to; answer mode when empty")
	rootCmd.Flags().StringP("config", "c", "", "config file providing webrtc.ice_servers and logging")
	rootCmd.Flags().String("log-level", "", "override logging.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	id, _ := cmd.Flags().GetString("id")
	target, _ := cmd.Flags().GetString("target")
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(config.LoadOptions{Path: path})
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientOpts := signaling.DefaultClientOptions()
	clientOpts.PeerID = id
	clientOpts.Logger = logger
	client := signaling.NewClient(url, clientOpts)

	channels := make(chan *peer.DataChannel, 1)

	sessionOpts := peer.Options{
		ICEServers: iceServers(cfg.WebRTC.ICEServers),
		Logger:     logger,
		OnDataChannel: func(dc *peer.DataChannel) {
			channels <- dc
		},
		OnPeerLeft: func(peerID string) {
			fmt.Fprintf(os.Stderr, "peer %s left\n", peerID)
			stop()
		},
	}

	session, err := peer.NewSession(client, sessionOpts)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(os.Stderr, "joined relay as %s\n", client.ID())

	if target != "" {
		dc, err := session.CreateDataChannel(dataChannelLabel)
		if err != nil {
			return err
		}
		channels <- dc

		if err := session.Offer(ctx, target); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "offer sent to %s\n", target)
	} else {
		fmt.Fprintln(os.Stderr, "waiting for an offer")
	}

	var dc *peer.DataChannel
	select {
	case dc = <-channels:
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return fmt.Errorf("relay connection closed")
	}

	return chat(ctx, dc)
}

func chat(ctx context.Context, dc *peer.DataChannel) error {
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(data []byte) {
		fmt.Printf("< %s\n", data)
	})

	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		select {
		case <-opened:
		case <-ctx.Done():
			return nil
		}
	}
	fmt.Fprintf(os.Stderr, "data channel %q open, type a message and press enter\n", dc.Label())

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
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := dc.SendText(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
