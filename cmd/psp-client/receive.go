package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sungwon/psp-relay/internal/protocol"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print notifications as they arrive until interrupted",
	RunE:  listen,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Request stored notifications, print them and exit",
	RunE:  fetch,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard the notifications the relay stores for this recipient",
	RunE:  clearStored,
}

var fetchOnConnect bool

func init() {
	listenCmd.Flags().BoolVar(&fetchOnConnect, "fetch", false, "request stored notifications after connecting")
	rootCmd.AddCommand(listenCmd, fetchCmd, clearCmd)
}

func listen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()
	c, err := connectClient(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close client")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan struct{})
	go func() {
		select {
		case <-c.Done():
			close(lost)
			cancel()
		case <-ctx.Done():
		}
	}()

	if fetchOnConnect {
		if err := c.RequestStoredMessages(); err != nil {
			return err
		}
	}

	for {
		n, ok := c.ConsumeOldestContext(ctx)
		if !ok {
			break
		}
		if err := printNotification(cmd.OutOrStdout(), n); err != nil {
			return err
		}
	}

	select {
	case <-lost:
		return errors.New("connection to relay lost")
	default:
		return nil
	}
}

func fetch(cmd *cobra.Command, args []string) error {
	log := newLogger()
	c, err := connectClient(log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.RequestStoredMessages(); err != nil {
		return err
	}

	count := 0
	for {
		n, ok := c.ConsumeOldest()
		if !ok {
			break
		}
		if err := printNotification(cmd.OutOrStdout(), n); err != nil {
			return err
		}
		count++
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d stored notification(s) received\n", count)
	return nil
}

func clearStored(cmd *cobra.Command, args []string) error {
	log := newLogger()
	c, err := connectClient(log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.ClearQueueOnServer(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "stored notifications for %s cleared\n", c.ID())
	return nil
}

func printNotification(w io.Writer, n protocol.Notification) error {
	return json.NewEncoder(w).Encode(n)
}
