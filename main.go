// st-graphics is a terminal-side engine for the kitty graphics
// protocol with the Unicode-placeholder extension.
//
// The engine itself is embedded by a host terminal; this binary is a
// small demonstration host that feeds graphics commands through the
// engine and renders the results back to the controlling terminal.
//
// Usage:
//
//	st-graphics [flags]
//
// Flags:
//
//	-config string  Path to configuration file (default: XDG search path)
//	-image string   Transmit and display the given image file, then exit
//	-cols int       Cell columns for -image (0 = inferred)
//	-rows int       Cell rows for -image (0 = inferred)
//	-stdin          Read raw graphics commands from stdin, one per line
//	-dump           Dump engine state before exiting
//	-verbose        Enable verbose logging
//	-version        Print version and exit
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gitlab.com/tinyland/lab/st-graphics/internal/backend"
	"gitlab.com/tinyland/lab/st-graphics/internal/config"
	"gitlab.com/tinyland/lab/st-graphics/internal/protocol"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		imagePath   = flag.String("image", "", "Transmit and display the given image file, then exit")
		cols        = flag.Int("cols", 0, "Cell columns for -image (0 = inferred)")
		rows        = flag.Int("rows", 0, "Cell rows for -image (0 = inferred)")
		readStdin   = flag.Bool("stdin", false, "Read raw graphics commands from stdin, one per line")
		dumpState   = flag.Bool("dump", false, "Dump engine state before exiting")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("st-graphics %s (%s)\n", version, commit)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Debug = true
	}

	g, err := protocol.Init(cfg, backend.NewTermimgBackend(logger), nil, logger)
	if err != nil {
		logger.Error("initializing graphics engine", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() {
		if *dumpState {
			g.DumpState()
		}
		if err := g.Deinit(); err != nil {
			logger.Error("cleaning up", "err", err)
		}
	}()

	switch {
	case *imagePath != "":
		if err := showImage(g, *imagePath, *cols, *rows); err != nil {
			logger.Error("displaying image", "err", err)
		}
	case *readStdin:
		runStdin(ctx, g, logger)
	default:
		flag.Usage()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// showImage drives the engine the way a host terminal would: a
// transmit-and-display command for the file, then one frame that draws
// the resulting placement at the top of the screen.
func showImage(g *protocol.Graphics, path string, cols, rows int) error {
	const cw, ch = 10, 20

	encoded := base64.StdEncoding.EncodeToString([]byte(path))
	cmd := fmt.Sprintf("Ga=T,t=f,i=1,c=%d,r=%d;%s", cols, rows, encoded)

	g.StartDrawing(os.Stdout, cw, ch)
	g.ParseCommand([]byte(cmd))
	res := g.Result()
	if res.Error {
		g.FinishDrawing(os.Stdout)
		return fmt.Errorf("engine rejected the image: %s", strings.TrimSpace(res.Response))
	}

	if pl := res.CreatePlaceholder; pl != nil {
		g.AppendImageRect(os.Stdout, uint32(pl.ImageID), uint32(pl.PlacementID),
			0, pl.Columns, 0, pl.Rows, 0, 0, cw, ch, false)
	}
	g.FinishDrawing(os.Stdout)
	fmt.Println()
	return nil
}

// runStdin feeds raw command lines (with or without APC framing)
// through the engine and echoes responses, for poking at the protocol
// interactively.
func runStdin(ctx context.Context, g *protocol.Graphics, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSuffix(scanner.Text(), "\x1b\\")
		line = strings.TrimPrefix(line, "\x1b_")
		if line == "" {
			continue
		}

		if g.ParseCommand([]byte(line)) == 0 {
			logger.Warn("not a graphics command", "line", line)
			continue
		}
		res := g.Result()
		if res.Response != "" {
			fmt.Printf("%q\n", res.Response)
		}
		if pl := res.CreatePlaceholder; pl != nil {
			fmt.Printf("placeholder: image=%d placement=%d %dx%d\n",
				uint32(pl.ImageID), uint32(pl.PlacementID), pl.Columns, pl.Rows)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading stdin", "err", err)
	}
}
