// aobake bakes ambient occlusion maps for IGXC scenes, either as an HTTP
// job service or one scene at a time.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/config"
	"github.com/Faultbox/aobake/internal/jobs"
	"github.com/Faultbox/aobake/internal/logger"
	"github.com/Faultbox/aobake/internal/pipeline"
	"github.com/Faultbox/aobake/internal/server"
	"github.com/Faultbox/aobake/internal/watch"
)

func main() {
	config.ParseFlags()
	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		err = cmdServe(ctx, cfg)
	case "bake":
		err = cmdBake(ctx, cfg, args[1:])
	case "watch":
		err = cmdWatch(ctx, cfg, args[1:])
	case "config":
		err = cmdConfig(cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`aobake - ambient occlusion baking service

Usage:
  aobake [global flags] <command> [options]

Commands:
  serve                              Run the HTTP job service
  bake -url <url> | -file <path> | -test [-face-normals]
                                     Bake one scene and print the result
  watch <dir>                        Bake documents dropped into dir
  config [path]                      Write the effective configuration as YAML
  help                               Show this help

Global flags:
  -config -debug -host -port -resolution -out-dir -cache-dir

Examples:
  aobake -port 9000 serve
  aobake -resolution 512 bake -file scenes/room.igxc
  aobake watch ./drop`)
}

// startWorker creates the pipeline and a running queue around it.
func startWorker(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, *jobs.Queue) {
	p := pipeline.FromConfig(cfg)
	q := jobs.New(p, cfg.Queue.PollInterval)
	q.Start(ctx)
	return p, q
}

func startWatcher(ctx context.Context, cfg *config.Config, dir string, q *jobs.Queue) (*watch.Watcher, error) {
	w := watch.New(dir, q, watch.Options{
		Pattern:    cfg.Watch.Pattern,
		Resolution: cfg.Bake.Resolution,
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func cmdServe(ctx context.Context, cfg *config.Config) error {
	p, q := startWorker(ctx, cfg)
	defer q.Stop()

	if cfg.Watch.Dir != "" {
		if _, err := startWatcher(ctx, cfg, cfg.Watch.Dir, q); err != nil {
			return err
		}
	}

	srv := server.New(q, p, server.Options{
		OutputDir:  cfg.Paths.OutputDir,
		Resolution: cfg.Bake.Resolution,
	})
	logger.Info("=== aobake service ===", zap.String("addr", cfg.Server.Addr()))
	return srv.ListenAndServe(ctx, cfg.Server.Addr())
}

func cmdBake(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("bake", flag.ExitOnError)
	url := fs.String("url", "", "URL of an igxc document")
	file := fs.String("file", "", "Path to an igxc document")
	test := fs.Bool("test", false, "Bake the built-in test scene")
	faceNormals := fs.Bool("face-normals", false, "Use computed face normals")
	fs.Parse(args)

	jobArgs := jobs.Args{"resolution": cfg.Bake.Resolution, "face_normals": *faceNormals}
	sources := 0
	if *url != "" {
		jobArgs["url"] = *url
		sources++
	}
	if *file != "" {
		jobArgs["file"] = *file
		sources++
	}
	if *test {
		jobArgs["test"] = true
		sources++
	}
	if sources != 1 {
		fmt.Fprintln(os.Stderr, "Usage: aobake bake -url <url> | -file <path> | -test [-face-normals]")
		os.Exit(1)
	}

	res, err := pipeline.FromConfig(cfg).Run(ctx, jobArgs)
	if err != nil {
		return err
	}

	// The modified document is already on disk.
	res.IgxcModified = nil
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(res)
}

func cmdWatch(ctx context.Context, cfg *config.Config, args []string) error {
	dir := cfg.Watch.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: aobake watch <dir>")
		os.Exit(1)
	}

	_, q := startWorker(ctx, cfg)
	defer q.Stop()

	w, err := startWatcher(ctx, cfg, dir, q)
	if err != nil {
		return err
	}
	<-w.Done()
	logger.Info("watcher stopped", zap.Int("pending", q.Pending()))
	return nil
}

func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Println(config.DefaultPath())
		return nil
	}
	if args[0] == "-" {
		return cfg.Write(os.Stdout)
	}
	if err := cfg.SaveTo(args[0]); err != nil {
		return err
	}
	fmt.Println(args[0])
	return nil
}
