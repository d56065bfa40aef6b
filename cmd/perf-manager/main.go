package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adaptix/perf-manager/internal/app"
	"github.com/adaptix/perf-manager/internal/config"
)

const (
	Version = "1.0.0-dev"
)

// CLI represents the command line interface
type CLI struct {
	args []string
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

func main() {
	cli := &CLI{args: os.Args[1:]}

	commands := map[string]*Command{
		"run":      {Name: "run", Description: "Start the performance manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate": {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":  {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":     {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
	}

	if len(cli.args) == 0 {
		cli.printUsage(commands)
		os.Exit(1)
	}

	commandName := cli.args[0]

	if commandName == "--help" || commandName == "-h" {
		cli.printUsage(commands)
		return
	}

	// Default to run command when the first argument is a flag
	if _, exists := commands[commandName]; !exists {
		if strings.HasPrefix(commandName, "--") {
			commandName = "run"
		} else {
			fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", commandName)
			cli.printUsage(commands)
			os.Exit(1)
		}
	} else {
		cli.args = cli.args[1:]
	}

	cmd := commands[commandName]
	if err := cmd.Run(cli.args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (cli *CLI) printUsage(commands map[string]*Command) {
	fmt.Printf("Performance Manager v%s\n", Version)
	fmt.Println("An adaptive performance control loop with autoscaling, load balancing and error recovery.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Printf("  %s <command> [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("COMMANDS:")

	commandOrder := []string{"run", "validate", "version", "help"}
	for _, name := range commandOrder {
		if cmd, exists := commands[name]; exists {
			fmt.Printf("  %-10s %s\n", cmd.Name, cmd.Description)
		}
	}

	fmt.Println()
	fmt.Println("GLOBAL OPTIONS:")
	fmt.Println("  --help, -h  Show help information")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Printf("  %s run\n", os.Args[0])
	fmt.Printf("  %s run --config ./configs/example.yaml\n", os.Args[0])
	fmt.Printf("  %s validate --config ./configs/example.yaml\n", os.Args[0])
}

func (cli *CLI) parseFlags(args []string, flags map[string]*string) []string {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// Handle --flag=value format
			if strings.Contains(flagName, "=") {
				parts := strings.SplitN(flagName, "=", 2)
				flagName = parts[0]
				if flagVar, exists := flags[flagName]; exists {
					*flagVar = parts[1]
				}
				continue
			}

			// Handle --flag value format
			if flagVar, exists := flags[flagName]; exists {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
					*flagVar = args[i+1]
					i++
				} else {
					*flagVar = "true"
				}
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return remaining
}

func (cli *CLI) runCommand(args []string) error {
	var configPath string
	var logLevel = "info"

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
	}

	remaining := cli.parseFlags(args, flags)

	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printRunHelp()
			return nil
		}
	}

	logger, err := cli.createLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	var cfg *config.Config
	if configPath == "" {
		logger.Info("Running in zero-config mode with defaults")
		cfg, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("failed to load default configuration: %w", err)
		}
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}
		logger.Info("Loading configuration", zap.String("path", configPath))
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	manager, err := app.NewManager(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		for sig := range sigChan {
			logger.Info("Received signal", zap.String("signal", sig.String()))

			switch sig {
			case syscall.SIGUSR1:
				result := manager.ForceCycle(ctx)
				logger.Info("Forced optimization cycle",
					zap.Int("identified", result.ActionsIdentified),
					zap.Int("executed", result.ActionsExecuted),
					zap.Float64("total_impact", result.TotalImpact))
			default:
				logger.Info("Shutting down gracefully")
				cancel()
				return
			}
		}
	}()

	logger.Info("Starting Performance Manager",
		zap.String("version", Version),
		zap.Int("pools_configured", len(cfg.Scaling.Pools)),
		zap.String("cycle_interval", cfg.Coordinator.CycleInterval.String()),
		zap.String("server_address", cfg.Server.BindAddress))

	if err := manager.Run(ctx); err != nil {
		logger.Error("Manager stopped with error", zap.Error(err))
		return fmt.Errorf("manager stopped with error: %w", err)
	}

	logger.Info("Performance Manager stopped")
	return nil
}

func (cli *CLI) validateCommand(args []string) error {
	var configPath string

	flags := map[string]*string{
		"config": &configPath,
	}

	remaining := cli.parseFlags(args, flags)

	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printValidateHelp()
			return nil
		}
	}

	var cfg *config.Config
	var err error

	if configPath == "" {
		fmt.Println("Validating zero-config mode with defaults")
		cfg, err = config.LoadDefault()
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}
		fmt.Printf("Validating configuration file: %s\n", configPath)
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cli.printConfigurationSummary(cfg)
	fmt.Println("\nConfiguration is valid.")
	return nil
}

// printConfigurationSummary prints a summary of valid configuration
func (cli *CLI) printConfigurationSummary(cfg *config.Config) {
	fmt.Println("\nCONFIGURATION SUMMARY:")

	fmt.Printf("Server:\n")
	if cfg.Server.Enabled {
		fmt.Printf("   Bind Address: %s\n", cfg.Server.BindAddress)
		fmt.Printf("   Metrics Path: %s\n", cfg.Server.MetricsPath)
		fmt.Printf("   Health Path: %s\n", cfg.Server.HealthPath)
		fmt.Printf("   Rate Limit: %d req/min\n", cfg.Server.RateLimit)
	} else {
		fmt.Printf("   Disabled\n")
	}

	fmt.Printf("\nCoordinator:\n")
	fmt.Printf("   Cycle Interval: %s\n", cfg.Coordinator.CycleInterval)
	fmt.Printf("   Max Actions Per Run: %d\n", cfg.Coordinator.MaxActionsPerRun)
	fmt.Printf("   Memory Limit: %.1f%%, Disk Limit: %.1f%%\n",
		cfg.Coordinator.Resources.MaxMemoryPercent, cfg.Coordinator.Resources.MaxDiskPercent)

	fmt.Printf("\nWorker Pools (%d configured):\n", len(cfg.Scaling.Pools))
	for _, pool := range cfg.Scaling.Pools {
		fmt.Printf("   Pool '%s': initial=%d, min=%d, max=%d, backlog=%d\n",
			pool.Kind, pool.InitialSize, pool.MinSize, pool.MaxSize, pool.TaskBacklog)
	}
	fmt.Printf("   Scale Up Above: %.0f%%, Scale Down Below: %.0f%%\n",
		cfg.Scaling.ScaleUpThreshold*100, cfg.Scaling.ScaleDownThreshold*100)

	fmt.Printf("\nLoad Balancer:\n")
	fmt.Printf("   High/Low Load: %.2f / %.2f\n", cfg.LoadBalancer.HighLoadThreshold, cfg.LoadBalancer.LowLoadThreshold)
	fmt.Printf("   Rebalance Above Spread: %.2f\n", cfg.LoadBalancer.RebalanceThreshold)
	fmt.Printf("   Response Time Goal: %s, Error Rate Goal: %.2f\n",
		cfg.LoadBalancer.ResponseTimeGoal, cfg.LoadBalancer.ErrorRateGoal)

	fmt.Printf("\nError Recovery:\n")
	fmt.Printf("   Breaker: opens after %d failures, half-open after %s\n",
		cfg.Recovery.BreakerThreshold, cfg.Recovery.BreakerTimeout)
	fmt.Printf("   Retries: %d with %s base delay\n", cfg.Recovery.MaxRetries, cfg.Recovery.RetryBaseDelay)

	if cfg.Cache.Enabled {
		fmt.Printf("\nResult Cache: enabled (%d shards, %dMB, %s life window)\n",
			cfg.Cache.Shards, cfg.Cache.MaxSizeMB, cfg.Cache.LifeWindow)
	} else {
		fmt.Printf("\nResult Cache: disabled\n")
	}

	if cfg.Telemetry.Enabled {
		fmt.Printf("\nTelemetry: enabled (%s exporter)\n", cfg.Telemetry.Exporter.Type)
		fmt.Printf("   Service: %s v%s (%s)\n", cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
		fmt.Printf("   Sampling Rate: %.1f%%\n", cfg.Telemetry.Sampling.Rate*100)
	} else {
		fmt.Printf("\nTelemetry: disabled\n")
	}
}

func (cli *CLI) versionCommand(args []string) error {
	fmt.Printf("Performance Manager version %s\n", Version)
	fmt.Println("Built with Go")
	fmt.Println("https://github.com/adaptix/perf-manager")
	return nil
}

func (cli *CLI) helpCommand(args []string) error {
	commands := map[string]*Command{
		"run":      {Name: "run", Description: "Start the performance manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate": {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":  {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":     {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
	}

	if len(args) == 0 {
		cli.printUsage(commands)
		return nil
	}

	switch args[0] {
	case "run":
		cli.printRunHelp()
	case "validate":
		cli.printValidateHelp()
	case "version":
		fmt.Println("USAGE: perf-manager version")
		fmt.Println("Show version information and build details.")
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		cli.printUsage(commands)
	}

	return nil
}

func (cli *CLI) validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	return nil
}

func (cli *CLI) createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}

func (cli *CLI) printRunHelp() {
	fmt.Println("USAGE: perf-manager run [options]")
	fmt.Println("Start the performance manager with autoscaling, load balancing and error recovery.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path      Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level  Log level: debug, info, warn, error (default: info)")
	fmt.Println("  --help, -h         Show this help message")
	fmt.Println()
	fmt.Println("SIGNALS:")
	fmt.Println("  SIGINT/SIGTERM  Graceful shutdown")
	fmt.Println("  SIGUSR1         Force an optimization cycle now")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  perf-manager run")
	fmt.Println("  perf-manager run --config ./configs/example.yaml")
	fmt.Println("  perf-manager run --log-level debug")
}

func (cli *CLI) printValidateHelp() {
	fmt.Println("USAGE: perf-manager validate [options]")
	fmt.Println("Validate configuration file without starting the service.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path  Configuration file path (default: zero-config mode)")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  perf-manager validate")
	fmt.Println("  perf-manager validate --config ./configs/example.yaml")
}
