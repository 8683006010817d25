package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicolasgere/lambdaknit/lib/cloud"
	"github.com/nicolasgere/lambdaknit/lib/installer"
	"github.com/nicolasgere/lambdaknit/lib/orchestrator"
	"github.com/nicolasgere/lambdaknit/lib/runner"
	"github.com/nicolasgere/lambdaknit/lib/utils"
	"github.com/urfave/cli/v2"
)

const (
	stepBuild  = orchestrator.StepBuild
	stepClean  = orchestrator.StepClean
	stepZip    = orchestrator.StepZip
	stepUpload = orchestrator.StepUpload
	stepInvoke = orchestrator.StepInvoke
	stepDeploy = orchestrator.StepDeploy
	stepLogs   = orchestrator.StepLogs
)

var (
	profile    string
	tailSince  time.Duration
	tailLimit  int
	tailFilter string
)

func cloudFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "AWS shared config profile",
			EnvVars:     []string{"AWS_PROFILE"},
			Destination: &profile,
		},
	}
}

func createStepCommand(name, usage string, step orchestrator.Step, extra ...cli.Flag) *cli.Command {
	flags := append(commonFlags(), targetFlags()...)
	flags = append(flags, extra...)

	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "[function...]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			return runStep(c, step)
		},
	}
}

func createLogsCommand() *cli.Command {
	flags := append(commonFlags(), targetFlags()...)
	flags = append(flags, cloudFlags()...)
	flags = append(flags,
		&cli.DurationFlag{
			Name:        "since",
			Usage:       "How far back to read",
			Value:       10 * time.Minute,
			Destination: &tailSince,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of events per function",
			Value:       100,
			Destination: &tailLimit,
		},
		&cli.StringFlag{
			Name:        "filter",
			Usage:       "CloudWatch Logs filter pattern",
			Destination: &tailFilter,
		},
	)

	return &cli.Command{
		Name:      "logs",
		Usage:     "Print recent CloudWatch log events of the deployed functions",
		ArgsUsage: "[function...]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			return runStep(c, stepLogs)
		},
	}
}

func isCloudStep(step orchestrator.Step) bool {
	switch step {
	case stepUpload, stepInvoke, stepDeploy, stepLogs:
		return true
	}
	return false
}

func runStep(c *cli.Context, step orchestrator.Step) error {
	p, err := openProject()
	if err != nil {
		return err
	}

	names, err := p.targets(c)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		utils.Logger().Info("No functions found")
		return nil
	}

	r := runner.NewRunner(c.Context, concurrency)
	o := orchestrator.New(p.fs, p.resolver, installer.NewNpmInstaller(p.fs, &r), concurrency)

	if isCloudStep(step) {
		client, err := cloud.New(c.Context, cloud.Options{Profile: profile, Region: region})
		if err != nil {
			return err
		}
		o.Deployer, o.Invoker, o.Logs = client, client, client
		o.TailOptions = cloud.TailOptions{Since: tailSince, Limit: int32(tailLimit), Filter: tailFilter}
	}

	outcomes := o.Run(c.Context, step, names)
	for _, out := range outcomes {
		report(c, step, out)
	}

	if failed := orchestrator.Failed(outcomes); len(failed) > 0 {
		return cli.Exit(fmt.Sprintf("%s failed for %d of %d functions", step, len(failed), len(outcomes)), 1)
	}
	return nil
}

func report(c *cli.Context, step orchestrator.Step, out orchestrator.Outcome) {
	if out.Err != nil {
		utils.LogStatus(out.Name, "✗ Failed: "+out.Err.Error(), false)
		return
	}

	switch {
	case out.Invocation != nil:
		printInvocation(c, out.Name, out.Invocation)
	case step == stepLogs:
		for _, event := range out.Events {
			fmt.Fprintf(c.App.Writer, "[%s] %s %s\n", out.Name, event.Timestamp.Format(time.RFC3339), event.Message)
		}
	case out.Deployment != nil:
		action := "updated"
		if out.Deployment.Created {
			action = "created"
		}
		utils.LogStatus(out.Name, "✓ Function "+action, true)
		return
	}
	utils.LogStatus(out.Name, "✓ Done", true)
}

func printInvocation(c *cli.Context, name string, inv *cloud.Invocation) {
	var payload bytes.Buffer
	if err := json.Indent(&payload, inv.RawPayload, "", "  "); err != nil {
		payload.Reset()
		payload.Write(inv.RawPayload)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "[%s] status %d\n", name, inv.StatusCode)
	if inv.FunctionError != "" {
		fmt.Fprintf(w, "[%s] function error: %s\n", name, inv.FunctionError)
	}
	fmt.Fprintln(w, payload.String())
	fmt.Fprintln(w, "-----")
	fmt.Fprintln(w, inv.Log)
}

// createRunCommand runs an arbitrary shell command in every function directory.
func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a shell command in every function directory",
		ArgsUsage: "<command>",
		Description: `Examples:
  lambdaknit run "npm test"
  lambdaknit run -a "npm run lint"     # Only affected functions`,
		Flags: append(commonFlags(), targetFlags()...),
		Action: func(c *cli.Context) error {
			cmd := c.Args().First()
			if cmd == "" {
				return fmt.Errorf("missing command to run")
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			functions, err := p.discover()
			if err != nil {
				return err
			}
			if affected {
				names, err := p.affectedNames(functions, base, true)
				if err != nil {
					return err
				}
				keep := make(map[string]bool, len(names))
				for _, name := range names {
					keep[name] = true
				}
				filtered := functions[:0]
				for _, f := range functions {
					if keep[f.Name] {
						filtered = append(filtered, f)
					}
				}
				functions = filtered
			}
			if len(functions) == 0 {
				utils.Logger().Info("No functions found")
				return nil
			}

			tasks := make([]runner.Task, len(functions))
			for i, f := range functions {
				tasks[i] = runner.Task{Id: f.Name, Cmd: cmd, Root: f.Dir}
			}

			r := runner.NewRunner(c.Context, concurrency)
			results := runner.Wait(r.RunTasks(tasks), func(tf *runner.TaskFuture) runner.TaskResult {
				utils.LogTaskStart(tf.Id, cmd)
				result := tf.Log()
				if result.Status == 0 && result.Err == nil {
					utils.LogStatus(tf.Id, "✓ Done", true)
				} else {
					utils.LogStatus(tf.Id, fmt.Sprintf("✗ Failed (exit %d)", result.Status), false)
				}
				return result
			})

			failed := 0
			for _, result := range results {
				if result.Status != 0 || result.Err != nil {
					failed++
				}
			}

			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d functions failed", failed, len(tasks)), 1)
			}
			return nil
		},
	}
}
