package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/prosepress/internal/checkpoint"
	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/service"
	"github.com/lamim/prosepress/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	level      int
	outputPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prosepress",
		Short: "prosepress - EPUB prose simplifier",
		Long: `prosepress rewrites the prose of an EPUB at a chosen simplification
level while preserving the book's structure, images and layout. Interrupted
jobs resume from their checkpoints.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	processCmd := &cobra.Command{
		Use:   "process <book.epub>",
		Short: "Rewrite an EPUB at the chosen simplification level",
		Long: `Rewrite every chapter of an EPUB through the configured backend:
1. Extract chapter text in reading order
2. Rewrite overlapping word windows with rolling context
3. Smooth chapter transitions (quality profile)
4. Rebuild the EPUB with the original structure intact

Rerunning the same file at the same level resumes from checkpoints.`,
		Args: cobra.ExactArgs(1),
		RunE: runProcess,
	}
	processCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	processCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	processCmd.Flags().IntVarP(&level, "level", "l", 2, "Simplification level: 1 (light), 2 (moderate), 3 (aggressive)")
	processCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: next to the input)")
	processCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	statusCmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show checkpointed progress for a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage job checkpoints",
		Long:  "Inspect and remove checkpoint directories of interrupted or finished jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs with checkpoints",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	cleanCmd := &cobra.Command{
		Use:   "clean <job-id>",
		Short: "Remove a job's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE:  runClean,
	}
	cleanCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(cleanCmd)

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configured file, falling back to built-in defaults
// when the default config path simply does not exist. An explicitly given
// path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Secrets, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	return config.Load(path)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	lvl := models.Level(level)
	if !lvl.Valid() {
		return fmt.Errorf("invalid level %d: must be 1, 2 or 3", level)
	}

	svc := service.New(cfg, secrets, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID, err := svc.Submit(ctx, args[0], lvl, outputPath)
	if err != nil {
		return err
	}
	logger.Info("Job submitted", "job_id", jobID, "level", lvl.String())

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Rewriting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ticker.C:
			state, ok := svc.Status(jobID)
			if !ok {
				continue
			}
			_ = bar.Set(int(state.Progress * 100))
			if state.Status.Terminal() {
				break poll
			}
		case <-ctx.Done():
			break poll
		}
	}

	svc.Wait()
	_ = bar.Finish()

	state, ok := svc.Status(jobID)
	if !ok {
		return fmt.Errorf("job %s vanished", jobID)
	}
	switch state.Status {
	case models.StatusCompleted:
		fmt.Printf("Done: %s\n", state.OutputPath)
		return nil
	case models.StatusFailed:
		return fmt.Errorf("job failed: %s", state.Error)
	default:
		return fmt.Errorf("job interrupted, rerun the same command to resume (job %s)", jobID)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	jobs, err := checkpoint.ListJobs(cfg.Pipeline.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, job := range jobs {
		if job.JobID != args[0] {
			continue
		}
		fmt.Printf("Job:       %s\n", job.JobID)
		fmt.Printf("Level:     %s\n", job.Level.String())
		fmt.Printf("Chapters:  %d/%d complete\n", job.CompletedChapters, job.TotalChapters)
		fmt.Printf("Progress:  %.1f%%\n", job.Progress())
		fmt.Printf("Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Directory: %s\n", job.Dir)
		return nil
	}
	return fmt.Errorf("no checkpoints found for job %s", args[0])
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	jobs, err := checkpoint.ListJobs(cfg.Pipeline.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No checkpointed jobs found.")
		return nil
	}

	fmt.Printf("%-18s %-11s %-12s %-9s %s\n", "JOB", "LEVEL", "CHAPTERS", "PROGRESS", "CREATED")
	for _, job := range jobs {
		fmt.Printf("%-18s %-11s %3d/%-8d %7.1f%%  %s\n",
			job.JobID,
			job.Level.String(),
			job.CompletedChapters,
			job.TotalChapters,
			job.Progress(),
			job.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := checkpoint.Remove(cfg.Pipeline.WorkDir, args[0]); err != nil {
		return fmt.Errorf("failed to remove checkpoints: %w", err)
	}
	fmt.Printf("Removed checkpoints for job %s\n", args[0])
	return nil
}
