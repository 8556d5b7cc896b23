package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	wirelink "github.com/glimte/wirelink-go"
	"github.com/glimte/wirelink-go/connection"
	"github.com/glimte/wirelink-go/contracts"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wirelink-probe",
		Short: "Probe and exercise a wirelink WebSocket endpoint",
		Long: `wirelink-probe is a CLI tool for exercising a wirelink-speaking
WebSocket endpoint: listen to its message stream, send one-off messages,
or issue a request and wait for the correlated reply.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	// Global flags
	var (
		url       string
		verbose   bool
		heartbeat time.Duration
	)

	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "ws://localhost:8080/ws", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "Heartbeat interval (negative disables)")

	newClient := func() *wirelink.Client {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return wirelink.NewClient(url,
			wirelink.WithLogger(logger),
			wirelink.WithHeartbeat(heartbeat, 5*time.Second),
		)
	}

	// Listen command
	var types []string
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream inbound messages to stdout",
		Long:  "Connect and print every inbound message. With --type, only the named message types are printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			client := newClient()
			defer client.Close()

			print := func(env *contracts.Envelope) {
				out, err := json.Marshal(env)
				if err != nil {
					return
				}
				fmt.Println(string(out))
			}
			if len(types) > 0 {
				for _, mt := range types {
					client.On(mt, print)
				}
			} else {
				client.OnMessage(print)
			}
			client.OnError(func(werr *contracts.WireError) {
				fmt.Fprintf(os.Stderr, "error: %v\n", werr)
			})
			client.OnStateChange(func(ev connection.StateEvent) {
				fmt.Fprintf(os.Stderr, "state: %s -> %s\n", ev.Previous, ev.Current)
			})

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			<-ctx.Done()
			return client.Disconnect()
		},
	}
	listenCmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Message types to print (repeatable)")

	// Send command
	sendCmd := &cobra.Command{
		Use:   "send <type> [json-payload]",
		Short: "Send a fire-and-forget message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client := newClient()
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			env := &contracts.Envelope{Type: args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %q", args[1])
				}
				env.Payload = json.RawMessage(args[1])
			}
			if err := client.SendEnvelope(ctx, env); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
			fmt.Printf("sent %s (id %s)\n", env.Type, env.ID)
			return client.Disconnect()
		},
	}

	// Request command
	var timeout time.Duration
	requestCmd := &cobra.Command{
		Use:   "request <type> [json-payload]",
		Short: "Send a request and print the correlated reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client := newClient()
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			env := &contracts.Envelope{Type: args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %q", args[1])
				}
				env.Payload = json.RawMessage(args[1])
			}

			reply, err := client.Manager().Request(ctx, env, timeout)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			out, err := json.Marshal(reply)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return client.Disconnect()
		},
	}
	requestCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Reply timeout")

	// Stats command
	var watch time.Duration
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Connect and periodically print connection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			client := newClient()
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return client.Disconnect()
				case <-ticker.C:
					printStats(client)
				}
			}
		},
	}
	statsCmd.Flags().DurationVar(&watch, "interval", 5*time.Second, "Refresh interval")

	rootCmd.AddCommand(listenCmd, sendCmd, requestCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printStats(client *wirelink.Client) {
	stats := client.Stats()
	rs := client.ReconnectionState()
	fmt.Printf("state=%s sent=%d received=%d connects=%d/%d reconnects=%d retry_attempt=%d\n",
		client.State(),
		stats.MessagesSent,
		stats.MessagesReceived,
		stats.SuccessfulConnections,
		stats.ConnectionAttempts,
		stats.ReconnectAttempts,
		rs.Attempt,
	)
}
