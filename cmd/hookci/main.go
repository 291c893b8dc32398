package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hookci/hookci/docker"
	"github.com/hookci/hookci/filter"
	"github.com/hookci/hookci/hcconfig"
	"github.com/hookci/hookci/hclog"
	"github.com/hookci/hookci/model"
	"github.com/hookci/hookci/orchestrator"
	"github.com/hookci/hookci/scm"
)

func main() {
	logger := hclog.New("hookci")
	slog.SetDefault(logger)

	ctx := hclog.IntoContext(context.Background(), logger)

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		logger.Error("hookci failed", "err", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "hookci",
		Usage: "run a local CI pipeline against the current repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the pipeline configuration file",
				Value: ".hookci.yml",
			},
			&cli.StringFlag{
				Name:  "hook-type",
				Usage: "git hook that triggered this run: pre-commit, pre-push, or empty for a manual run",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "run all steps in one shared container and drop into a shell on a failing critical step",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	workdir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}

	cfg, err := hcconfig.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	hclog.SetLevel(hclog.LevelFor(string(cfg.LogLevel)))

	dockerClient, err := docker.NewDockerClient()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer dockerClient.Close()

	driver := docker.New(dockerClient)
	probe := scm.New(workdir)
	engine := orchestrator.New(driver, probe, workdir)

	opts := orchestrator.Options{
		Debug:    cmd.Bool("debug"),
		HookType: filter.HookType(cmd.String("hook-type")),
	}

	events, err := engine.Run(ctx, cfg, opts)
	if err != nil {
		return err
	}

	finalStatus := model.Success
	for ev := range events {
		if end, ok := ev.(model.PipelineEnd); ok {
			finalStatus = end.Status
		}
		dumpEvent(ev)
	}

	if finalStatus == model.Failure {
		os.Exit(1)
	}
	return nil
}

func dumpEvent(ev model.Event) {
	switch e := ev.(type) {
	case model.PipelineStart:
		fmt.Printf("=== pipeline start (%d steps, log_level=%s)\n", e.TotalSteps, e.LogLevel)
	case model.ImagePullStart:
		fmt.Printf("--- pulling %s\n", e.ImageName)
	case model.ImagePullEnd:
		fmt.Printf("--- pull: %s\n", e.Status)
	case model.ImageBuildStart:
		fmt.Printf("--- building %s from %s (%d steps)\n", e.Tag, e.DockerfilePath, e.TotalSteps)
	case model.ImageBuildProgress:
		fmt.Printf("    [%d] %s\n", e.Step, e.Line)
	case model.ImageBuildEnd:
		fmt.Printf("--- build: %s\n", e.Status)
	case model.StepStart:
		fmt.Printf(">>> %s\n", e.Step.Name)
	case model.LogLine:
		fmt.Printf("    %s: %s\n", e.Stream, e.Line)
	case model.StepEnd:
		fmt.Printf("<<< %s: %s (exit %d)\n", e.Step.Name, e.Status, e.ExitCode)
	case model.DebugShellStarting:
		fmt.Printf("*** attach a shell to container %s for step %s\n", e.ContainerID, e.Step.Name)
	case model.PipelineEnd:
		fmt.Printf("=== pipeline end: %s\n", e.Status)
	}
}
