package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
	"github.com/spf13/cobra"
)

// buildChatCmd creates the "chat" command: an interactive terminal session
// against the local agent.
func buildChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long: `Chat starts an interactive session. Plain lines become user turns;
while a task is running they are inserted into the current turn instead.

Commands:
  /cancel          stop the running task
  /skip            skip the pending tool batch
  /exit            leave the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	return cmd
}

func runChat(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()

	rt.scheduler.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.scheduler.Stop(stopCtx)
	}()

	lines := readLines(ctx)
	key := defaultSessionKey
	fmt.Printf("sidekick %s - /exit to quit\n", version)

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/exit" || line == "/quit":
				return nil
			case strings.HasPrefix(line, "/"):
				fmt.Println("no task is running")
				continue
			}
			events, err := rt.engine.HandleMessage(ctx, key, models.NewUserText(line))
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			streamTask(ctx, rt, key, events, lines)
		}
	}
}

// streamTask prints the task's event stream, forwarding lines typed while
// it runs as control commands or mid-task answers.
func streamTask(ctx context.Context, rt *runtime, key models.SessionKey, events <-chan models.StreamEvent, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			rt.engine.Cancel(key, "interrupted")
			drainEvents(events)
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				rt.engine.Cancel(key, "input closed")
				drainEvents(events)
				return
			}
			handleControl(rt, key, strings.TrimSpace(line))
		case ev, ok := <-events:
			if !ok {
				fmt.Println()
				return
			}
			printEvent(ev)
		}
	}
}

func handleControl(rt *runtime, key models.SessionKey, line string) {
	var err error
	switch {
	case line == "":
	case line == "/cancel":
		err = rt.engine.Cancel(key, "user request")
	case line == "/skip":
		err = rt.engine.Skip(key)
	case strings.HasPrefix(line, "/"):
		fmt.Printf("\nunknown command %q\n", line)
	default:
		err = rt.engine.Insert(key, line)
	}
	if err != nil && !errors.Is(err, agent.ErrNoActiveTask) {
		fmt.Printf("\nerror: %v\n", err)
	}
}

func printEvent(ev models.StreamEvent) {
	switch ev.Type {
	case models.EventTextDelta:
		fmt.Print(ev.Text)
	case models.EventToolCallStart:
		if ev.ToolCall != nil {
			fmt.Printf("\n[%s]\n", ev.ToolCall.Name)
		}
	case models.EventError:
		fmt.Printf("\nerror: %v\n", ev.Err)
	}
}

func drainEvents(events <-chan models.StreamEvent) {
	for range events {
	}
}

// readLines pumps stdin lines into a channel so the event loop can select
// over input and task events at once.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
