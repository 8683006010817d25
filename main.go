package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	analyzer "github.com/nicolasgere/lambdaknit/lib/analyser"
	"github.com/nicolasgere/lambdaknit/lib/config"
	"github.com/nicolasgere/lambdaknit/lib/git"
	"github.com/nicolasgere/lambdaknit/lib/utils"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// Options shared by every command. Each command binds its own flags to them.
var (
	projectDir  = "."
	concurrency = 3
	useColor    bool
	region      string
	verbose     bool
	affected    bool
	base        = "main"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandling(cancel)

	app := createCliApp()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
}

func createCliApp() *cli.App {
	return &cli.App{
		Name:  "lambdaknit",
		Usage: "Build, package and deploy the Lambda functions of a project",
		Commands: []*cli.Command{
			createStepCommand("build", "Stage sources and install dependencies into build/", stepBuild),
			createStepCommand("clean", "Remove build/ and build.zip", stepClean),
			createStepCommand("zip", "Pack build/ into build.zip", stepZip),
			createStepCommand("upload", "Create or update the deployed functions from build.zip", stepUpload, cloudFlags()...),
			createStepCommand("invoke", "Invoke the deployed functions with their event.json", stepInvoke, cloudFlags()...),
			createStepCommand("deploy", "Clean, build, zip and upload", stepDeploy, cloudFlags()...),
			createLogsCommand(),
			createRunCommand(),
			createListCommand(),
			createAffectedCommand(),
			createGraphCommand(),
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "path",
			Usage:       "Path to the root directory of the project",
			Aliases:     []string{"p"},
			Value:       ".",
			Destination: &projectDir,
		},
		&cli.BoolFlag{
			Name:        "color",
			Usage:       "Enable colored output for better readability",
			Aliases:     []string{"c"},
			Destination: &useColor,
		},
		&cli.StringFlag{
			Name:        "region",
			Usage:       "Region of the functions whose config files do not set one (default: us-east-1)",
			EnvVars:     []string{"AWS_REGION", "AWS_DEFAULT_REGION"},
			Destination: &region,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Log debug messages",
			Aliases:     []string{"v"},
			Destination: &verbose,
		},
	}
}

// targetFlags select the functions a command works on when none are named.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Number of functions processed at once",
			Aliases:     []string{"j"},
			Value:       3,
			Destination: &concurrency,
		},
		&cli.BoolFlag{
			Name:        "affected",
			Usage:       "Run only on affected functions (since merge-base)",
			Aliases:     []string{"a"},
			Destination: &affected,
		},
		&cli.StringFlag{
			Name:        "base",
			Usage:       "Git reference to compare against when using --affected (default: main)",
			Aliases:     []string{"b"},
			Value:       "main",
			Destination: &base,
		},
	}
}

// setup applies the output options and returns the absolute project root.
func setup() (string, error) {
	utils.SetColorEnabled(useColor)
	utils.SetOutput(os.Stderr)
	if verbose {
		utils.SetLevel(utils.DEBUG)
	}

	absPath, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	// Matches the repository root reported by git
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	return absPath, nil
}

// project bundles what the commands need to look at a project on disk.
type project struct {
	root     string
	fs       afero.Fs
	resolver *config.Resolver
}

func openProject() (*project, error) {
	absPath, err := setup()
	if err != nil {
		return nil, err
	}
	fs := afero.NewOsFs()
	resolver := config.NewResolver(fs, absPath, utils.Logger())
	if region != "" {
		resolver.SetDefaultRegion(region)
	}
	return &project{
		root:     absPath,
		fs:       fs,
		resolver: resolver,
	}, nil
}

// discover lists and resolves every function of the project.
func (p *project) discover() ([]analyzer.Function, error) {
	functions, err := analyzer.ListFunctions(p.fs, p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	analyzer.ResolveFunctions(p.resolver, functions)
	return functions, nil
}

// affectedNames returns the functions touched by the changes since ref.
func (p *project) affectedNames(functions []analyzer.Function, ref string, useMergeBase bool) ([]string, error) {
	changedFiles, err := git.GetChangedFiles(ref, useMergeBase, p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}

	g, err := analyzer.BuildDependencyGraph(functions)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	return analyzer.AffectedFunctions(g, functions, changedFiles)
}

// targets returns the function names given as arguments, or every discovered
// function, narrowed to the affected ones when --affected is set.
func (p *project) targets(c *cli.Context) ([]string, error) {
	names := c.Args().Slice()
	if len(names) > 0 && !affected {
		return names, nil
	}

	functions, err := p.discover()
	if err != nil {
		return nil, err
	}

	if affected {
		affectedList, err := p.affectedNames(functions, base, true)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return affectedList, nil
		}
		keep := make(map[string]bool, len(affectedList))
		for _, name := range affectedList {
			keep[name] = true
		}
		var filtered []string
		for _, name := range names {
			if keep[name] {
				filtered = append(filtered, name)
			}
		}
		return filtered, nil
	}

	names = make([]string, len(functions))
	for i, f := range functions {
		names[i] = f.Name
	}
	return names, nil
}
