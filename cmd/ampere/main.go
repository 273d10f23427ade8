// Command ampere runs tasks against a configured runtime from the command
// line. The HTTP surface, TUI, and scheduler are separate hosts; this binary
// covers config validation and one-shot smoke runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/config"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/runtime"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/version"
)

type cli struct {
	Config string `help:"Path to the YAML config file." short:"c" default:"ampere.yaml"`

	Run      runCmd      `cmd:"" help:"Execute a task."`
	Validate validateCmd `cmd:"" help:"Validate a config file."`
	Version  versionCmd  `cmd:"" help:"Print the version."`
}

type runCmd struct {
	Description string `arg:"" help:"Task description."`
	Preset      string `help:"Budget preset: low, medium, high, unlimited." default:""`
	Direct      bool   `help:"Use the direct react loop instead of the full state machine."`
	JSON        bool   `help:"Print the full result as JSON."`
}

func (r *runCmd) Run(root *cli) error {
	_ = config.LoadDotEnv()

	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}

	providers := llms.NewProviderRegistry()
	if err := providers.RegisterProvider(newLocalProvider()); err != nil {
		return err
	}

	registry := tools.NewRegistry()
	echo, err := tools.NewEchoTool()
	if err != nil {
		return err
	}
	if err := registry.RegisterTool(echo); err != nil {
		return err
	}

	rt, err := runtime.New(cfg, providers, registry)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Shutdown(context.Background()) }()

	opts := runtime.ExecuteOptions{Preset: budget.Preset(r.Preset)}
	if r.Direct {
		opts.Mode = runtime.ModeDirect
	}

	result := rt.ExecuteTask(context.Background(), task.New(r.Description), opts)

	if r.JSON {
		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	fmt.Printf("status: %s\n", result.Status)
	if result.Answer != "" {
		fmt.Printf("answer: %s\n", result.Answer)
	}
	if result.Error != "" {
		fmt.Printf("error: %s\n", result.Error)
	}
	fmt.Printf("tokens: %d  tool calls: %d  cost: $%.4f\n",
		result.BudgetUsed.TokensUsed, result.BudgetUsed.ToolCallsUsed, result.BudgetUsed.CostUsd)

	if result.Status != task.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

type validateCmd struct{}

func (v *validateCmd) Run(root *cli) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid (default preset: %s)\n", root.Config, cfg.Budget.DefaultPreset)
	return nil
}

type versionCmd struct{}

func (v *versionCmd) Run(_ *cli) error {
	fmt.Println(version.Version)
	return nil
}

func main() {
	var root cli
	ctx := kong.Parse(&root,
		kong.Name("ampere"),
		kong.Description("Budgeted multi-phase agent runtime."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&root))
}
