package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/app"
	"github.com/gmsas95/medremind/internal/cli"
	"github.com/gmsas95/medremind/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = func() { cli.PrintExtendedHelp(os.Stderr) }
	flag.Parse()
	cli.Version = version

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "help", "--help", "-h":
		cli.PrintExtendedHelp(os.Stdout)
		return
	case "version", "--version", "-v":
		fmt.Printf("MedRemind version %s\n", version)
		return
	case "config":
		cfg := loadConfig()
		exitOn(cli.HandleConfigCommand(os.Stdout, cfg, resolveConfigPath(cfg), args))
		return
	case "doctor":
		if cli.HandleDoctorCommand(os.Stdout, loadConfig()) > 0 {
			os.Exit(1)
		}
		return
	case "serve", "server":
		application := initApp(zapDevelopment())
		application.RunServer()
		return
	}

	logger := zap.NewNop()
	application := initApp(logger)
	err := runOneShot(context.Background(), application, cmd, args)
	application.Close()
	exitOn(err)
}

// runOneShot brings the day up to date and runs a single command without
// starting the scheduler.
func runOneShot(ctx context.Context, application *app.App, cmd string, args []string) error {
	if cmd != "rollover" {
		if _, err := application.CheckAndResetIfNewDay(ctx); err != nil {
			return err
		}
	}

	switch cmd {
	case "status":
		return cli.HandleStatusCommand(os.Stdout, application)
	case "meds":
		return cli.HandleMedsCommand(os.Stdout, application)
	case "take", "skip", "undo":
		return cli.HandleDoseCommand(ctx, os.Stdout, application, cmd, args)
	case "stats":
		return cli.HandleStatsCommand(os.Stdout, application, args)
	case "insights":
		return cli.HandleInsightsCommand(os.Stdout, application, args)
	case "history":
		return cli.HandleHistoryCommand(os.Stdout, application, args)
	case "rollover":
		return cli.HandleRolloverCommand(ctx, os.Stdout, application)
	default:
		cli.PrintExtendedHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func initApp(logger *zap.Logger) *app.App {
	defer logger.Sync()

	logger.Info("Starting MedRemind", zap.String("version", version))

	cfg := loadConfig()
	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}
	if path := resolveConfigPath(cfg); fileExists(path) {
		application.ConfigFile = path
	}
	return application
}

func loadConfig() *config.Config {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env files: %v", err)
	}
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func resolveConfigPath(cfg *config.Config) string {
	if *configPath != "" {
		return *configPath
	}
	return filepath.Join(cfg.Storage.DataDir, "medremind.yaml")
}

func zapDevelopment() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
