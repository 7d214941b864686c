// Command distmon-demo runs the distributed bounded-buffer
// producer/consumer demo against a peer group described by a YAML config
// file, one OS process per group member.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/distmon/distmon/internal/config"
	"github.com/distmon/distmon/internal/demo"
	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/logging"
	"github.com/distmon/distmon/pkg/distmon/types"
)

var runRun = runDemo

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command logic and returns an exit code (0 = success).
// Keeping this function small makes unit-testing straightforward.
func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "run":
		err = runRun(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: distmon-demo <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run    Join the peer group as a producer or consumer")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -config string    path to the peer group YAML file (default peers.yaml)")
	fmt.Fprintln(os.Stderr, "  -mode string      produce or consume (required)")
	fmt.Fprintln(os.Stderr, "  -mutex string     name of the distributed monitor to join (default queue)")
	fmt.Fprintln(os.Stderr, "  -journal string   optional sqlite path for a local crash-recovery journal")
	fmt.Fprintln(os.Stderr, "  -capacity int     bounded buffer capacity (default 5)")
}

func runDemo(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "peers.yaml", "path to the peer group YAML file")
	mode := fs.String("mode", "", "produce or consume (required)")
	mutexName := fs.String("mutex", "queue", "name of the distributed monitor to join")
	journalPath := fs.String("journal", "", "optional sqlite path for a local crash-recovery journal")
	queueSize := fs.Int("capacity", 5, "bounded buffer capacity")
	fs.Parse(args)

	if *mode != "produce" && *mode != "consume" {
		return fmt.Errorf("-mode must be 'produce' or 'consume', got %q", *mode)
	}

	log := logging.New()

	group, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	channel, err := core.NewTCPChannel(group, log)
	if err != nil {
		return fmt.Errorf("failed connecting to peer group: %w", err)
	}
	defer channel.Close()

	var journal *demo.Journal
	if *journalPath != "" {
		journal, err = demo.OpenJournal(*journalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dispatcher := core.NewDispatcher(channel, log, nil)
	mutexEngine := core.NewMutexEngine(channel, dispatcher, log, nil)
	condEngine := core.NewCvEngine(channel, dispatcher, log, nil)
	dispatcher.Listen(ctx)
	defer func() {
		_ = channel.Close()
		dispatcher.Stop()
	}()

	buffer, err := demo.NewBufferMonitor[uint64](*mutexName, channel, dispatcher, mutexEngine, condEngine, log, *queueSize, journal)
	if err != nil {
		return err
	}
	defer buffer.Close()

	log.Infof("process %d joined monitor %q in %s mode", channel.ProcessID(), *mutexName, *mode)

	if *mode == "produce" {
		return produceLoop(ctx, buffer, log)
	}
	return consumeLoop(ctx, buffer, log)
}

func produceLoop(ctx context.Context, buffer *demo.BufferMonitor[uint64], log types.Logger) error {
	var i uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := buffer.Produce(i); err != nil {
			return err
		}
		log.Infof("produced %d", i)
		i++
	}
}

func consumeLoop(ctx context.Context, buffer *demo.BufferMonitor[uint64], log types.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		value, err := buffer.Consume()
		if err != nil {
			return err
		}
		log.Infof("consumed %d", value)
	}
}
