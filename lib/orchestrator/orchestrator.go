// Package orchestrator applies one lifecycle step to many function directories
// at once and reports an outcome per function.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nicolasgere/lambdaknit/lib/archive"
	"github.com/nicolasgere/lambdaknit/lib/cloud"
	"github.com/nicolasgere/lambdaknit/lib/config"
	"github.com/nicolasgere/lambdaknit/lib/stage"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	BuildDirName  = "build"
	ArchiveName   = "build.zip"
	EventFileName = "event.json"
)

var (
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
	ErrArchiveNotFound    = errors.New("archive not found")
	ErrEventFileNotFound  = errors.New("event file not found")
	ErrNoCloudClient      = errors.New("no cloud client configured")
)

type Step string

const (
	StepBuild  Step = "build"
	StepClean  Step = "clean"
	StepZip    Step = "zip"
	StepUpload Step = "upload"
	StepInvoke Step = "invoke"
	StepDeploy Step = "deploy"
	StepLogs   Step = "logs"
)

type Installer interface {
	Install(ctx context.Context, id, functionDir, buildDir string) error
}

type Deployer interface {
	Deploy(ctx context.Context, archive []byte, cfg *config.FunctionConfig) (*cloud.Deployment, error)
}

type Invoker interface {
	Invoke(ctx context.Context, cfg *config.FunctionConfig, payload []byte) (*cloud.Invocation, error)
}

type LogTailer interface {
	Tail(ctx context.Context, cfg *config.FunctionConfig, opts cloud.TailOptions) ([]cloud.LogEvent, error)
}

// Outcome is the result of one step on one function. Err is nil on success,
// the other fields are filled depending on the step.
type Outcome struct {
	Name       string
	Err        error
	Deployment *cloud.Deployment
	Invocation *cloud.Invocation
	Events     []cloud.LogEvent
}

type Orchestrator struct {
	Fs       afero.Fs
	Resolver *config.Resolver
	Stager   *stage.Stager
	Archiver *archive.Archiver

	Installer Installer
	Deployer  Deployer
	Invoker   Invoker
	Logs      LogTailer

	// Concurrency bounds the number of functions processed at once.
	Concurrency int
	TailOptions cloud.TailOptions
}

// New wires an orchestrator over fs with the local collaborators. Cloud
// collaborators are left for the caller to set.
func New(fs afero.Fs, resolver *config.Resolver, installer Installer, concurrency int) *Orchestrator {
	return &Orchestrator{
		Fs:          fs,
		Resolver:    resolver,
		Stager:      stage.NewStager(fs),
		Archiver:    archive.NewArchiver(fs),
		Installer:   installer,
		Concurrency: concurrency,
	}
}

// Run applies step to every named function concurrently and waits for all of
// them. Outcomes are returned in the order of names; one failure never stops
// the others.
func (o *Orchestrator) Run(ctx context.Context, step Step, names []string) []Outcome {
	outcomes := make([]Outcome, len(names))

	var g errgroup.Group
	if o.Concurrency > 0 {
		g.SetLimit(o.Concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = o.RunOne(ctx, step, name)
			return nil
		})
	}
	g.Wait()

	return outcomes
}

// RunOne applies step to a single function.
func (o *Orchestrator) RunOne(ctx context.Context, step Step, name string) Outcome {
	out := Outcome{Name: name}
	switch step {
	case StepBuild:
		out.Err = o.Build(ctx, name)
	case StepClean:
		out.Err = o.Clean(name)
	case StepZip:
		out.Err = o.Zip(name)
	case StepUpload:
		out.Deployment, out.Err = o.Upload(ctx, name)
	case StepInvoke:
		out.Invocation, out.Err = o.Invoke(ctx, name)
	case StepDeploy:
		out.Deployment, out.Err = o.Deploy(ctx, name)
	case StepLogs:
		out.Events, out.Err = o.Tail(ctx, name)
	default:
		out.Err = fmt.Errorf("unknown step: %s", step)
	}
	return out
}

// Failed returns the outcomes carrying an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, out := range outcomes {
		if out.Err != nil {
			failed = append(failed, out)
		}
	}
	return failed
}

func (o *Orchestrator) paths(name string) (dir, buildDir, archivePath string) {
	dir = o.Resolver.FunctionDir(name)
	return dir, filepath.Join(dir, BuildDirName), filepath.Join(dir, ArchiveName)
}

// runtimeFamily maps a runtime identifier such as "nodejs20.x" to the family
// that decides which sources are staged.
func runtimeFamily(runtime string) string {
	switch {
	case strings.HasPrefix(runtime, "nodejs"):
		return "nodejs"
	case strings.HasPrefix(runtime, "python"):
		return "python"
	default:
		return ""
	}
}
