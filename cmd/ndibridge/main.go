package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ndibridge/ndibridge/internal/capture"
	"github.com/ndibridge/ndibridge/internal/mockcap"
	"github.com/ndibridge/ndibridge/internal/receiver"
	"github.com/ndibridge/ndibridge/internal/sender"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h":
		printUsage()
		os.Exit(0)
	case "--version":
		fmt.Println(version)
		os.Exit(0)
	case "discover":
		os.Exit(runDiscover(os.Args[2:]))
	case "host":
		os.Exit(runHost(os.Args[2:]))
	case "join":
		os.Exit(runJoin(os.Args[2:]))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ndibridge <command> [flags]

Commands:
  discover           enumerate capture sources and print them
  host               run the sender orchestrator
  join               run the receiver orchestrator

Global:
  --help, -h         print this message
  --version          print the build version`)
}

// newCapabilities returns the capture, output, and codec backends for a
// run. The platform backends this bridge ultimately targets are external
// collaborators supplied outside this repository; --mock selects the
// deterministic in-process fakes in internal/mockcap instead, for
// development and testing.
func newCapabilities(mock bool, width, height, fps int) (capture.SourceCapture, capture.SourceOutput, capture.VideoCodec, error) {
	if !mock {
		return nil, nil, nil, fmt.Errorf("no platform capture backend is linked into this build; pass --mock to exercise the pipeline with synthetic sources")
	}
	sources := []capture.SourceDescriptor{
		{Name: "MOCK-SOURCE-1", URN: "mock://source/1", FourCC: "BGRA", FieldMode: "progressive"},
		{Name: "MOCK-SOURCE-2", URN: "mock://source/2", FourCC: "BGRA", FieldMode: "progressive"},
	}
	return mockcap.New(sources, width, height, fps), mockcap.NewOutput(), mockcap.Codec{}, nil
}

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	mock := fs.Bool("mock", false, "use the synthetic mock capture backend")
	fs.Parse(args)

	cap, _, _, err := newCapabilities(*mock, 1280, 720, 30)
	if err != nil {
		slog.Error("discover: no capture backend", "error", err)
		return 1
	}
	if err := cap.Initialize(); err != nil {
		slog.Error("discover: initialize failed", "error", err)
		return 1
	}
	sources, err := cap.Discover(10)
	if err != nil {
		slog.Error("discover: failed", "error", err)
		return 1
	}
	for i, s := range sources {
		fmt.Printf("[%d] %s\n", i, s.Name)
	}
	if len(sources) == 0 {
		return 1
	}
	return 0
}

func runHost(args []string) int {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	target := fs.String("target", "", "destination host:port")
	port := fs.Int("port", 0, "destination port, combined with a bare --target host")
	bitrate := fs.Int("bitrate", 0, "encoder bitrate in Mbps, 0 for the encoder default")
	source := fs.String("source", "", "exact/partial source name to select")
	auto := fs.Bool("auto", false, "skip the interactive source prompt")
	mock := fs.Bool("mock", false, "use the synthetic mock capture and codec backends")
	var excludes stringList
	fs.Var(&excludes, "exclude", "substring to exclude from source selection (repeatable)")
	fs.Parse(args)

	if *target == "" {
		slog.Error("host: --target is required")
		return 1
	}
	targetAddr := *target
	if *port > 0 {
		targetAddr = fmt.Sprintf("%s:%d", *target, *port)
	}

	cap, _, vcodec, err := newCapabilities(*mock, 1280, 720, 30)
	if err != nil {
		slog.Error("host: no capture backend", "error", err)
		return 1
	}

	sessionID := uuid.NewString()
	log := slog.With("session", sessionID, "role", "host")

	s := sender.New(sender.Config{
		Target:          targetAddr,
		Bitrate:         *bitrate * 1_000_000,
		SourceName:      *source,
		ExcludePatterns: excludes,
		Auto:            *auto,
	}, cap, vcodec, log)

	ctx := withSignalHandling(context.Background(), log)
	if err := s.Run(ctx); err != nil {
		log.Error("host: exited with error", "error", err)
		return 1
	}
	return 0
}

func runJoin(args []string) int {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	port := fs.Int("port", 0, "UDP listen port, 0 for the protocol default")
	name := fs.String("name", "", "output source name")
	bufferMs := fs.Int("buffer", 0, "delay-buffer size in milliseconds, 0 for real-time")
	mock := fs.Bool("mock", false, "use the synthetic mock output and codec backends")
	fs.Parse(args)

	_, out, vcodec, err := newCapabilities(*mock, 0, 0, 30)
	if err != nil {
		slog.Error("join: no output backend", "error", err)
		return 1
	}

	sessionID := uuid.NewString()
	log := slog.With("session", sessionID, "role", "join", "output_name", *name)

	r := receiver.New(receiver.Config{
		Port:       *port,
		OutputName: *name,
		BufferMs:   *bufferMs,
	}, vcodec, out, log)

	ctx := withSignalHandling(context.Background(), log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("join: exited with error", "error", err)
		return 1
	}
	return 0
}

// withSignalHandling returns a context cancelled on SIGINT/SIGTERM, the
// shared shutdown trigger for both orchestrators.
func withSignalHandling(parent context.Context, log *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()
	return ctx
}

// stringList implements flag.Value to collect a repeatable --exclude flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprintf("%v", *s) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
