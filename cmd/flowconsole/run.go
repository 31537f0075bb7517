package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tcmartin/flowconsole/pkg/blocks"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/loader"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/runner"
	"github.com/tcmartin/flowconsole/pkg/webhooks"
)

var (
	ctxOnce sync.Once
	rootCtx context.Context
)

// cmdContext is cancelled on interrupt
func cmdContext() context.Context {
	ctxOnce.Do(func() {
		rootCtx, _ = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	})
	return rootCtx
}

func runCmd() *cobra.Command {
	var (
		vars       map[string]string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run [flow.yaml]",
		Short: "Run a test flow on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := loader.NewYAMLLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			if flow.Variables == nil {
				flow.Variables = map[string]interface{}{}
			}
			for k, v := range vars {
				flow.Variables[k] = v
			}

			c, err := newConsole()
			if err != nil {
				return err
			}
			flowRunner := c.flowRunner(!jsonOutput)
			defer c.flush()

			result, err := flowRunner.RunFlow(cmdContext(), flow)
			if err != nil {
				return err
			}
			return report(result, jsonOutput)
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "Override a flow variable (name=value)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run result as JSON")
	return cmd
}

func blockCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "block [flow.yaml] [block-id]",
		Short: "Run a single block of a flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := loader.NewYAMLLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			block, ok := flow.Blocks[args[1]]
			if !ok {
				return fmt.Errorf("block %s not found in %s", args[1], args[0])
			}

			c, err := newConsole()
			if err != nil {
				return err
			}
			flowRunner := c.flowRunner(!jsonOutput)
			defer c.flush()

			result, err := flowRunner.RunBlock(cmdContext(), block, flow.Variables)
			if err != nil {
				return err
			}
			return report(result, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run result as JSON")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flow.yaml]",
		Short: "Validate a test flow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := loader.NewYAMLLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d blocks, starts at %s\n", flow.Metadata.Name, len(flow.Blocks), flow.Start)
			return nil
		},
	}
}

// flowRunner wires the execution client, the coordinator, the configured
// webhooks and, when verbose, printers for block and run events
func (c *console) flowRunner(verbose bool) *runner.FlowRunner {
	coord := runner.NewCoordinator(nil, nil, c.logger)
	if verbose {
		coord.Blocks().Subscribe(printBlockEvent)
		coord.Subscribe(printRunEvent)
	}
	if len(c.cfg.Webhooks) > 0 {
		c.notifier = webhooks.NewDispatcher(webhookConfigs(c.cfg.Webhooks), webhooks.Options{Logger: c.logger})
		c.notifier.Attach(coord)
	}
	return runner.NewFlowRunner(c.executionClient(), coord, c.session, runner.Options{Logger: c.logger})
}

func webhookConfigs(settings []config.WebhookConfig) []webhooks.WebhookConfig {
	hooks := make([]webhooks.WebhookConfig, 0, len(settings))
	for _, s := range settings {
		hooks = append(hooks, webhooks.WebhookConfig{
			URL:     s.URL,
			Headers: s.Headers,
			Secret:  s.Secret,
			Events:  s.Events,
			RetryConfig: webhooks.RetryConfig{
				MaxRetries:   s.MaxRetries,
				InitialDelay: s.RetryDelay(),
			},
		})
	}
	return hooks
}

// flush waits for pending webhook deliveries
func (c *console) flush() {
	if c.notifier != nil {
		c.notifier.Close()
	}
}

func printBlockEvent(e blocks.Event) {
	s := e.State
	switch e.Type {
	case blocks.EventStarted:
		fmt.Printf("  %-24s running\n", s.BlockID)
	case blocks.EventCompleted:
		duration := ""
		if s.DurationMs != nil {
			duration = fmt.Sprintf(" (%dms)", *s.DurationMs)
		}
		line := fmt.Sprintf("  %-24s %s%s", s.BlockID, s.Status, duration)
		if s.ErrorMessage != "" {
			line += ": " + s.ErrorMessage
		}
		fmt.Println(line)
	}
}

func printRunEvent(e runner.RunEvent) {
	switch e.Type {
	case runner.RunStarted:
		fmt.Printf("Run %s started (%s)\n", e.Session.ID, e.Session.Mode)
	case runner.RunCompleted:
		fmt.Printf("Run %s finished: %s\n", e.Session.ID, e.Session.ResultType)
	}
}

// report prints the result and turns a non-successful run into an error exit
func report(result *runner.FlowResult, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else if result.Session.Message != "" {
		fmt.Println(result.Session.Message)
	}

	if result.Session.ResultType != models.ResultSuccess {
		return fmt.Errorf("run %s ended with %s", result.Session.ID, result.Session.ResultType)
	}
	return nil
}
