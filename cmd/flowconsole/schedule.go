package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tcmartin/flowconsole/pkg/loader"
	"github.com/tcmartin/flowconsole/pkg/runner"
)

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "schedule [cron] [flow.yaml]",
		Short:   "Run a flow on a cron schedule until interrupted",
		Example: `  flowconsole schedule "@every 30m" smoke.yaml
  flowconsole schedule "0 */2 * * *" nightly.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole()
			if err != nil {
				return err
			}

			scheduler := runner.NewScheduler(c.flowRunner(false), loader.NewYAMLLoader(), c.logger)
			if _, err := scheduler.Schedule(args[0], args[1]); err != nil {
				return err
			}
			results := scheduler.Results()
			scheduler.Start()
			fmt.Printf("Scheduled %s on %q, press Ctrl+C to stop\n", args[1], args[0])

			ctx := cmdContext()
			for {
				select {
				case result := <-results:
					fmt.Printf("%s run %s: %s\n", result.Session.StartedAt.Format("2006-01-02 15:04:05"), result.Session.ID, result.Session.ResultType)
					if result.Session.Message != "" {
						fmt.Printf("  %s\n", result.Session.Message)
					}
				case <-ctx.Done():
					fmt.Println("Stopping scheduler...")
					<-scheduler.Stop().Done()
					c.flush()
					return nil
				}
			}
		},
	}
}
