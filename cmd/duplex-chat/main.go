// Command duplex-chat runs an interactive voice conversation against
// the realtime speech API: microphone audio streams up, assistant text
// and audio stream back down, and speaking over the assistant
// interrupts it mid-response.
//
// Usage:
//
//	go run ./cmd/duplex-chat                          # server-side turn detection
//	go run ./cmd/duplex-chat --mode local             # local RMS voice gate
//	go run ./cmd/duplex-chat --index ./duplex-index   # enable document lookup tool
//	go run ./cmd/duplex-chat --backend mock --debug   # no audio hardware needed
//
// Environment variables:
//
//	OPENAI_API_KEY  - required
//	DUPLEX_MODEL    - override the realtime model
//	DUPLEX_VAD_HOLD - silence hold for the local gate (e.g. 400ms)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/openspoken/go-duplex/internal/config"
	"github.com/openspoken/go-duplex/internal/log"
	"github.com/openspoken/go-duplex/pkg/audioio"
	"github.com/openspoken/go-duplex/pkg/realtime"
	"github.com/openspoken/go-duplex/pkg/retrieval"
	"github.com/openspoken/go-duplex/pkg/vad"
)

func main() {
	mode := flag.String("mode", "server", "Turn detection: server (remote VAD) or local (RMS gate)")
	voice := flag.String("voice", "", "Assistant voice (default: provider default)")
	instructions := flag.String("instructions", "", "System instructions for the assistant")
	index := flag.String("index", "", "Path to a document index; enables the lookup tool")
	collection := flag.String("collection", config.DefaultCollection, "Index collection name")
	backend := flag.String("backend", "auto", "Audio backend: auto, portaudio, mock")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Best-effort: a .env file is a convenience, not a requirement.
	godotenv.Load()

	if *debug {
		log.Init("debug")
	} else {
		log.Init("info")
	}
	logger := log.L()

	apiKey := config.OpenAIKey()

	cfg := realtime.DefaultConfig().
		WithAPIKey(apiKey).
		WithDebug(*debug)
	cfg.Model = config.Env("DUPLEX_MODEL", cfg.Model)
	if *voice != "" {
		cfg = cfg.WithVoice(*voice)
	}
	if *instructions != "" {
		cfg = cfg.WithInstructions(*instructions)
	}
	switch *mode {
	case "server":
		cfg = cfg.WithTurnDetection(realtime.TurnDetectionServer)
	case "local":
		cfg = cfg.WithTurnDetection(realtime.TurnDetectionManual)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q (want server or local)\n", *mode)
		os.Exit(1)
	}

	client, err := realtime.NewClient(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *index != "" {
		if err := registerLookupTool(client, *index, *collection, apiKey, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(*backend)
	audioCfg.SampleRate = realtime.SampleRate

	source, err := audioio.NewSource(audioCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	sink, err := audioio.NewSink(audioCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wireCallbacks(ctx, client, sink, logger)

	fmt.Println("🔌 Connecting...")
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: connect failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := source.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start capture: %v\n", err)
		os.Exit(1)
	}
	if err := sink.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start playback: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("🎤 Connected (%s turn detection, %s audio). Speak, Ctrl-C to quit.\n",
		*mode, source.Name())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if *mode == "local" {
			return runLocalGate(ctx, client, source)
		}
		return runServerStream(ctx, client, source)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		logger.Error("session ended", "error", err)
	}

	fmt.Println("\n👋 Bye")
}

// wireCallbacks connects client events to the terminal and the speaker.
func wireCallbacks(ctx context.Context, client *realtime.Client, sink audioio.Sink, logger *slog.Logger) {
	client.OnText(func(delta string) {
		fmt.Print(delta)
	})
	client.OnTranscript(func(text string) {
		fmt.Printf("\nYou: %s\n", text)
	})
	client.OnAudio(func(pcm []byte) {
		var chunk audioio.AudioChunk
		chunk.FromBytes(pcm, realtime.SampleRate, 1)
		if err := sink.Write(ctx, chunk); err != nil {
			logger.Warn("playback write failed", "error", err)
		}
	})
	client.OnInterrupt(func() {
		sink.Clear()
		fmt.Println("\n[interrupted]")
	})
	client.OnError(func(err error) {
		logger.Warn("client error", "error", err)
	})
}

// runServerStream forwards every captured chunk upstream and lets the
// remote VAD segment turns.
func runServerStream(ctx context.Context, client *realtime.Client, source audioio.Source) error {
	for {
		chunk, err := source.Read(ctx)
		if err != nil {
			return err
		}
		if err := client.SendAudio(chunk.Bytes()); err != nil {
			return err
		}
	}
}

// runLocalGate segments the microphone stream with the local RMS gate
// and submits whole utterances. Starting to speak interrupts any
// in-flight response before the utterance is collected.
func runLocalGate(ctx context.Context, client *realtime.Client, source audioio.Source) error {
	gateCfg := vad.DefaultConfig()
	gateCfg.Hold = config.EnvDuration("DUPLEX_VAD_HOLD", gateCfg.Hold)
	gate := vad.New(gateCfg)

	for {
		chunk, err := source.Read(ctx)
		if err != nil {
			return err
		}

		event, utterance := gate.Feed(chunk.Bytes())
		switch event {
		case vad.SpeechStart:
			if err := client.Interrupt(); err != nil {
				return err
			}
		case vad.SpeechEnd:
			if err := client.SendUtterance(utterance); err != nil {
				return err
			}
		}
	}
}

// registerLookupTool opens the document index and exposes it to the
// model as a lookup tool.
func registerLookupTool(client *realtime.Client, path, collection, apiKey string, logger *slog.Logger) error {
	store, err := retrieval.NewStore(retrieval.StoreConfig{
		Path:       path,
		Collection: collection,
		APIKey:     apiKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("open index %s: %w", path, err)
	}

	logger.Info("document lookup enabled", "path", path, "chunks", store.Count())

	client.RegisterTool(realtime.Tool{
		Name:        "lookup_documents",
		Description: "Search the local document index for passages relevant to a question. Use this whenever the user asks about the indexed documents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query argument is required")
			}

			lookupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			result, err := store.Lookup(lookupCtx, query)
			if err != nil {
				return "", err
			}
			if result == "" {
				return "No relevant documents found.", nil
			}
			return result, nil
		},
	})

	return nil
}
