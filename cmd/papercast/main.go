package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/loqalabs/papercast/internal/audio"
	"github.com/loqalabs/papercast/internal/chunker"
	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/llm"
	"github.com/loqalabs/papercast/internal/pdftext"
	"github.com/loqalabs/papercast/internal/podcast"
	"github.com/loqalabs/papercast/internal/protocol"
	"github.com/loqalabs/papercast/internal/script"
	"github.com/loqalabs/papercast/internal/summarizer"
	"github.com/loqalabs/papercast/internal/tts"
)

var version = "0.1.0-dev"

const usage = "expected one of: summarize, podcast, extract, chunk, validate, version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "summarize":
		err = runSummarize(ctx, args)
	case "podcast":
		err = runPodcast(ctx, args)
	case "extract":
		err = runExtract(args)
	case "chunk":
		err = runChunk(args)
	case "validate":
		err = runValidate(args)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(path, envFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func runSummarize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	file := fs.String("file", "", "PDF to summarize")
	configPath := fs.String("config", "", "Path to configuration file")
	envFile := fs.String("env-file", ".env", "Dotenv file with API keys")
	verbose := fs.Bool("v", false, "Verbose logging")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("summarize: -file is required")
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	gen, err := llm.FromConfig(cfg.LLM)
	if err != nil {
		return err
	}
	text, err := pdftext.Extract(*file)
	if err != nil {
		return err
	}
	reducer := summarizer.New(gen, summarizer.OptionsFromConfig(cfg.LLM, cfg.Summarizer), newLogger(*verbose))
	summary, err := reducer.Summarize(ctx, text)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// runPodcast voices the latest stored document uploaded under a file name,
// recording the run as a podcast job.
func runPodcast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("podcast", flag.ExitOnError)
	filename := fs.String("filename", "", "Stored document file name")
	configPath := fs.String("config", "", "Path to configuration file")
	envFile := fs.String("env-file", ".env", "Dotenv file with API keys")
	verbose := fs.Bool("v", false, "Verbose logging")
	_ = fs.Parse(args)
	if *filename == "" {
		return fmt.Errorf("podcast: -filename is required")
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	logger := newLogger(*verbose)

	store, err := docstore.Open(ctx, config.StoreConfig{Path: cfg.Store.Path}, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	doc, err := store.FindDocumentByFilename(ctx, *filename)
	if err != nil {
		return fmt.Errorf("document %q: %w", *filename, err)
	}

	gen, err := llm.FromConfig(cfg.LLM)
	if err != nil {
		return err
	}
	synth, err := tts.FromConfig(cfg.TTS)
	if err != nil {
		return err
	}
	assembler, err := audio.New(synth, audio.OptionsFromConfig(cfg.Podcast, cfg.TTS), logger)
	if err != nil {
		return err
	}
	writer := script.NewGenerator(gen, script.OptionsFromConfig(cfg.Podcast), logger)
	svc := podcast.NewService(ctx, cfg.Podcast, nil, store, writer, assembler, logger)
	defer svc.Close()

	job, err := store.CreateJob(ctx, uuid.NewString(), doc.ID)
	if err != nil {
		return err
	}
	res, err := svc.Process(ctx, protocol.PodcastRequest{
		JobID:       job.ID,
		DocumentID:  doc.ID,
		Summary:     doc.Summary,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	file := fs.String("file", "-", "Raw model output ('-' for stdin)")
	_ = fs.Parse(args)

	raw, err := readInput(*file)
	if err != nil {
		return err
	}
	turns, err := script.Parse(string(raw))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, turns)
}

func runChunk(args []string) error {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	file := fs.String("file", "-", "Text file ('-' for stdin)")
	maxChars := fs.Int("max", chunker.DefaultMaxChars, "Chunk budget in characters")
	_ = fs.Parse(args)

	text, err := readInput(*file)
	if err != nil {
		return err
	}
	for i, chunk := range chunker.Split(string(text), *maxChars) {
		fmt.Printf("--- chunk %d (%d chars) ---\n%s\n", i+1, utf8.RuneCountInString(chunk), chunk)
	}
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "papercast.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Println("config valid")
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
