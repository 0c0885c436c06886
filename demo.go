package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

var stepDelay time.Duration

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Print sample console output and show what a subscriber receives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mirror, err := capture.DupFile(os.Stderr)
		if err != nil {
			return err
		}
		defer func() { _ = mirror.Close() }()
		return runDemo(cmd.Context(), mirror, stepDelay)
	},
}

func init() {
	demoCmd.Flags().DurationVar(&stepDelay, "step-delay", 500*time.Millisecond, "pause between processing steps")
}

// printSubscriber writes every received message to a fixed writer.
type printSubscriber struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printSubscriber) Send(_ context.Context, msg capture.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "  >> [%s] %s: %s\n", msg.Timestamp, msg.Sender, msg.Text)
	return err
}

// runDemo captures a scripted burst of output. mirror must not be one of
// the captured descriptors, or the echoed messages are captured again.
func runDemo(ctx context.Context, mirror io.Writer, delay time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logs := logging.NewRegistry(logging.Options{Level: logging.LevelDebug, Output: mirror})
	logger := logs.Logger("demo")

	router := capture.NewRouter(capture.Options{
		Streams: []capture.Stream{capture.Stdout(), capture.Stderr()},
		Loggers: []capture.LogSource{logs.Root(), logs.Lookup("demo")},
	})
	sub := &printSubscriber{out: mirror}
	if err := router.Subscribe(sub); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	fmt.Println("🚀 Demo Console Streaming Started")
	fmt.Println("=====================================")
	fmt.Println("📊 Generating sample output...")

	logger.Info("Starting demo operations")
	logger.Warn("This is a warning message")
	logger.Error("This is an error message (simulated)")
	logger.Debug("Debug information")

	for i := 1; i <= 5; i++ {
		fmt.Printf("⏳ Processing step %d/5...\n", i)
		select {
		case <-ctx.Done():
			return closeDemo(router, sub, ctx.Err())
		case <-time.After(delay):
		}
	}

	fmt.Fprintln(os.Stderr, "⚠️  Simulating an error...")
	fmt.Println("✅ Demo completed successfully!")
	fmt.Printf("🕐 Finished at: %s\n", time.Now().Format(capture.TimestampLayout))

	return closeDemo(router, sub, nil)
}

func closeDemo(router *capture.Router, sub capture.Subscriber, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The pipe pumps run on their own goroutines; give them a moment to
	// hand over the last lines before the barrier.
	time.Sleep(100 * time.Millisecond)
	if err := router.Flush(ctx); err != nil && cause == nil {
		cause = err
	}
	if err := router.Unsubscribe(sub); err != nil && cause == nil {
		cause = err
	}
	if err := router.Close(ctx); err != nil && cause == nil {
		cause = err
	}
	return cause
}
