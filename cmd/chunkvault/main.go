package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/dmitrijs2005/chunkvault/internal/blob"
	"github.com/dmitrijs2005/chunkvault/internal/config"
	"github.com/dmitrijs2005/chunkvault/internal/engine"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
)

var cli struct {
	Config  string `help:"Path to a JSON config file." type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging."`

	Init struct {
		Name  string   `arg:"" help:"Job name."`
		Paths []string `arg:"" optional:"" type:"path" help:"Paths to back up."`
	} `cmd:"" help:"Create a backup job."`

	Add struct {
		Name  string   `arg:"" help:"Job name."`
		Paths []string `arg:"" type:"path" help:"Paths to add."`
	} `cmd:"" help:"Add paths to a job."`

	Remove struct {
		Name  string   `arg:"" help:"Job name."`
		Paths []string `arg:"" type:"path" help:"Paths to remove."`
	} `cmd:"" help:"Remove paths from a job."`

	Exclude struct {
		Name     string   `arg:"" help:"Job name."`
		Patterns []string `arg:"" help:"Path prefixes or glob patterns to exclude."`
	} `cmd:"" help:"Add exclude patterns to a job."`

	Push struct {
		Name string `arg:"" help:"Job name."`
	} `cmd:"" help:"Run a backup of the job."`

	Pull struct {
		Name string `arg:"" help:"Job name."`
		Dest string `arg:"" type:"path" help:"Destination directory."`
		Run  int    `help:"Run to restore (default: latest)."`
	} `cmd:"" help:"Restore a run of the job."`

	List struct{} `cmd:"" help:"List jobs."`

	Runs struct {
		Name string `arg:"" help:"Job name."`
	} `cmd:"" help:"List the committed runs of a job."`

	Status struct {
		Name string `arg:"" help:"Job name."`
	} `cmd:"" help:"Show a job summary."`

	Rm struct {
		Name string `arg:"" help:"Job name."`
	} `cmd:"" help:"Delete a job and its history."`
}

// seam for tests and non-terminal environments
var readPassword = term.ReadPassword

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

func promptNewSecret() (string, error) {
	secret, err := promptSecret("secret: ")
	if err != nil {
		return "", err
	}
	again, err := promptSecret("confirm secret: ")
	if err != nil {
		return "", err
	}
	if secret != again {
		return "", fmt.Errorf("secrets do not match")
	}
	return secret, nil
}

func main() {
	kctx := kong.Parse(&cli, kong.Name("chunkvault"),
		kong.Description("Encrypted, deduplicating file backup."),
		kong.UsageOnError())

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(kctx.Command(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "chunkvault: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, logger logging.Logger) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(cli.Config)
	if err != nil {
		return err
	}

	reg, err := registry.Open(ctx, cfg.RegistryPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	store, err := blob.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	eng := engine.New(reg, store, logger, cfg)

	switch command {
	case "init <name>", "init <name> <paths>":
		secret, err := promptNewSecret()
		if err != nil {
			return err
		}
		job, err := eng.CreateJob(ctx, cli.Init.Name, cli.Init.Paths, nil, secret)
		if err != nil {
			return err
		}
		fmt.Printf("created job %s (%s)\n", job.Name, job.ID)
		return nil

	case "add <name> <paths>":
		return eng.AddPaths(ctx, cli.Add.Name, cli.Add.Paths)

	case "remove <name> <paths>":
		return eng.RemovePaths(ctx, cli.Remove.Name, cli.Remove.Paths)

	case "exclude <name> <patterns>":
		return eng.AddExcludes(ctx, cli.Exclude.Name, cli.Exclude.Patterns)

	case "push <name>":
		secret, err := promptSecret("secret: ")
		if err != nil {
			return err
		}
		report, err := eng.Push(ctx, cli.Push.Name, secret)
		if err != nil {
			return err
		}
		printRunReport(report)
		return nil

	case "pull <name> <dest>":
		secret, err := promptSecret("secret: ")
		if err != nil {
			return err
		}
		report, err := eng.Pull(ctx, cli.Pull.Name, cli.Pull.Run, secret, cli.Pull.Dest)
		if err != nil {
			return err
		}
		printRestoreReport(report)
		return nil

	case "list":
		jobs, err := eng.ListJobs(ctx)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			fmt.Printf("%s\t%d paths\tcreated %s\n",
				job.Name, len(job.Paths), job.CreatedAt.Format(time.DateOnly))
		}
		return nil

	case "runs <name>":
		runs, err := eng.ListRuns(ctx, cli.Runs.Name)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%d\t%s\t%s\t%d files\t%d bytes uploaded\n",
				r.ID, r.FinishedAt.Format(time.RFC3339), r.Status,
				len(r.Manifest), r.BytesUploaded)
		}
		return nil

	case "status <name>":
		status, err := eng.JobStatus(ctx, cli.Status.Name)
		if err != nil {
			return err
		}
		printJobStatus(status)
		return nil

	case "rm <name>":
		return eng.RemoveJob(ctx, cli.Rm.Name)

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printRunReport(r *models.RunReport) {
	fmt.Printf("run %d of %s: %s\n", r.RunID, r.JobName, r.Status)
	fmt.Printf("  scanned %d files (%d changed, %d unchanged)\n",
		r.FilesScanned, r.FilesChanged, r.FilesReused)
	fmt.Printf("  uploaded %d chunks, %d bytes, in %s\n",
		r.ChunksUploaded, r.BytesUploaded, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, skip := range r.Skipped {
		fmt.Printf("  skipped %s: %v\n", skip.Path, skip.Err)
	}
}

func printRestoreReport(r *models.RestoreReport) {
	fmt.Printf("restored run %d of %s into %s: %s\n", r.RunID, r.JobName, r.Destination, r.Status)
	fmt.Printf("  %d files restored\n", r.FilesRestored)
	for _, fail := range r.Failed {
		fmt.Printf("  failed %s: %v\n", fail.Path, fail.Err)
	}
}

func printJobStatus(s *models.JobStatus) {
	fmt.Printf("job %s (%s)\n", s.Job.Name, s.Job.ID)
	for _, p := range s.Job.Paths {
		fmt.Printf("  path %s\n", p)
	}
	for _, e := range s.Job.Excludes {
		fmt.Printf("  exclude %s\n", e)
	}
	fmt.Printf("  runs: %d, uploaded %d bytes total\n", s.TotalRuns, s.BytesUploaded)
	if s.LastStatus == models.RunStatusNeverRun {
		fmt.Println("  never run")
	} else {
		fmt.Printf("  last run %s: %s\n", s.LastRunAt.Format(time.RFC3339), s.LastStatus)
	}
}
