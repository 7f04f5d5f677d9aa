// Package commands provides the CLI commands for agentpool.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentpool/internal/config"
	"github.com/opencode-ai/agentpool/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	logFile   string
	envFile   string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "agentpool",
	Short: "agentpool - a pool of permission-scoped coding agents",
	Long: `agentpool runs many LLM agents side by side. Each agent has a working
directory and a permission preset that decides which tools it may call,
on which paths and which other agents it may talk to.

Run 'agentpool serve' for the HTTP API, or 'agentpool mcp' to expose the
pool to an MCP host over stdio.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print human-readable logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Directory to load project config from (default: current directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentpool %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the env file and initializes logging before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	// stdout carries the MCP protocol and hosts often drop stderr.
	if cmd.Name() == "mcp" && logFile == "" && !printLogs {
		logFile = config.GetPaths().LogPath()
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.Pretty = printLogs

	var outputs []io.Writer
	if printLogs {
		outputs = append(outputs, os.Stderr)
	}
	if logFile != "" {
		f, err := logging.OpenFile(logFile)
		if err != nil {
			return err
		}
		outputs = append(outputs, f)
		cfg.Pretty = false
	}
	switch len(outputs) {
	case 0:
		cfg.Output = os.Stderr
	case 1:
		cfg.Output = outputs[0]
	default:
		cfg.Output = io.MultiWriter(outputs...)
	}
	logging.Init(cfg)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
