package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
	analyzer "github.com/nicolasgere/lambdaknit/lib/analyser"
	"github.com/urfave/cli/v2"
)

// OutputFormat defines the format for the affected command output
type OutputFormat string

const (
	FormatList         OutputFormat = "list"
	FormatGitHubMatrix OutputFormat = "github-matrix"
)

// createListCommand prints every function with its resolved name and runtime.
func createListCommand() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "list",
		Usage: "List the functions of the project with their resolved configuration",
		Flags: append(commonFlags(), &cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the resolved configurations as JSON",
			Destination: &asJSON,
		}),
		Action: func(c *cli.Context) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			functions, err := p.discover()
			if err != nil {
				return err
			}
			return outputList(c.App.Writer, functions, asJSON)
		},
	}
}

func outputList(w io.Writer, functions []analyzer.Function, asJSON bool) error {
	if asJSON {
		type entry struct {
			analyzer.Function
			Error string `json:"error,omitempty"`
		}
		entries := make([]entry, len(functions))
		for i, f := range functions {
			entries[i] = entry{Function: f}
			if f.Err != nil {
				entries[i].Error = f.Err.Error()
			}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	for _, f := range functions {
		if f.Err != nil {
			fmt.Fprintf(w, "%s\t(error: %s)\n", f.Name, f.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, f.Config.FunctionName, f.Config.Runtime, f.Config.Region)
	}
	return nil
}

// createAffectedCommand creates the 'affected' command
func createAffectedCommand() *cli.Command {
	var (
		useMergeBase bool
		format       string
	)

	return &cli.Command{
		Name:  "affected",
		Usage: "List functions affected by changes since a git reference",
		Description: `Detect which functions changed compared to a git reference. A function
is affected when a file inside its directory, or inside a path it includes, changed.

Examples:
  lambdaknit affected                        # Compare against 'main' branch
  lambdaknit affected --base origin/main     # Compare against origin/main
  lambdaknit affected --merge-base           # Use merge-base (recommended for CI)
  lambdaknit affected -f github-matrix       # Output: JSON matrix for GitHub Actions`,
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:        "base",
				Usage:       "Git reference to compare against (branch, tag, or commit)",
				Aliases:     []string{"b"},
				Value:       "main",
				Destination: &base,
			},
			&cli.BoolFlag{
				Name:        "merge-base",
				Usage:       "Compare against merge-base (common ancestor) - recommended for CI/PRs",
				Aliases:     []string{"m"},
				Destination: &useMergeBase,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "Output format: list (default), github-matrix",
				Aliases:     []string{"f"},
				Value:       "list",
				Destination: &format,
			},
		),
		Action: func(c *cli.Context) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			functions, err := p.discover()
			if err != nil {
				return err
			}
			if len(functions) == 0 {
				return fmt.Errorf("no functions found in %s", p.root)
			}

			names, err := p.affectedNames(functions, base, useMergeBase)
			if err != nil {
				return err
			}
			return outputAffected(c.App.Writer, names, OutputFormat(format))
		},
	}
}

func outputAffected(w io.Writer, functions []string, format OutputFormat) error {
	switch format {
	case FormatList:
		for _, f := range functions {
			fmt.Fprintln(w, f)
		}

	case FormatGitHubMatrix:
		type MatrixOutput struct {
			Function []string `json:"function"`
		}
		matrix := MatrixOutput{Function: functions}
		if len(functions) == 0 {
			matrix.Function = []string{} // Ensure empty array, not null
		}
		data, err := json.Marshal(matrix)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))

	default:
		return fmt.Errorf("unknown format: %s (use list or github-matrix)", format)
	}

	return nil
}

// createGraphCommand creates the 'graph' command to visualize shared includes
func createGraphCommand() *cli.Command {
	var format string

	return &cli.Command{
		Name:  "graph",
		Usage: "Display the functions of the project and the shared paths they include",
		Description: `Examples:
  lambdaknit graph                    # Show the include graph
  lambdaknit graph -f dot             # Output in DOT format (for Graphviz)
  lambdaknit graph -f json            # Output in JSON format`,
		Flags: append(commonFlags(), &cli.StringFlag{
			Name:        "format",
			Usage:       "Output format: tree (default), dot, json",
			Aliases:     []string{"f"},
			Value:       "tree",
			Destination: &format,
		}),
		Action: func(c *cli.Context) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			functions, err := p.discover()
			if err != nil {
				return err
			}
			if len(functions) == 0 {
				return fmt.Errorf("no functions found in %s", p.root)
			}

			g, err := analyzer.BuildDependencyGraph(functions)
			if err != nil {
				return fmt.Errorf("failed to build dependency graph: %w", err)
			}

			view := graphView{w: c.App.Writer, root: p.root, g: g, functions: functions}
			switch format {
			case "tree":
				return view.printTree()
			case "dot":
				return view.printDot()
			case "json":
				return view.printJSON()
			default:
				return fmt.Errorf("unknown format: %s (use tree, dot, or json)", format)
			}
		},
	}
}

type graphView struct {
	w         io.Writer
	root      string
	g         graph.Graph[string, string]
	functions []analyzer.Function
}

// rel shortens a vertex to a path relative to the project root.
func (v graphView) rel(path string) string {
	if r, err := filepath.Rel(v.root, path); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return path
}

func (v graphView) deps(f analyzer.Function) ([]string, error) {
	deps, err := analyzer.GetDependencyPaths(v.g, f.Dir)
	if err != nil {
		return nil, err
	}
	for i, dep := range deps {
		deps[i] = v.rel(dep)
	}
	return deps, nil
}

func (v graphView) printTree() error {
	fmt.Fprintln(v.w, "Function Include Graph")
	fmt.Fprintln(v.w, "======================")
	fmt.Fprintln(v.w)

	for _, f := range v.functions {
		fmt.Fprintf(v.w, "λ %s\n", f.Name)
		if f.Err != nil {
			fmt.Fprintf(v.w, "   (error: %s)\n\n", f.Err)
			continue
		}
		deps, err := v.deps(f)
		if err != nil {
			return err
		}
		if len(deps) == 0 {
			fmt.Fprintln(v.w, "   (no shared includes)")
		}
		for i, dep := range deps {
			if i == len(deps)-1 {
				fmt.Fprintf(v.w, "   └── %s\n", dep)
			} else {
				fmt.Fprintf(v.w, "   ├── %s\n", dep)
			}
		}
		fmt.Fprintln(v.w)
	}
	return nil
}

func (v graphView) printDot() error {
	fmt.Fprintln(v.w, "digraph includes {")
	fmt.Fprintln(v.w, "  rankdir=TB;")
	fmt.Fprintln(v.w, "  node [shape=box, style=rounded];")
	fmt.Fprintln(v.w)

	adjacency, err := v.g.AdjacencyMap()
	if err != nil {
		return fmt.Errorf("failed to get adjacency map: %w", err)
	}
	vertices := make([]string, 0, len(adjacency))
	for vertex := range adjacency {
		vertices = append(vertices, vertex)
	}
	sort.Strings(vertices)

	for _, vertex := range vertices {
		shape := "box"
		if analyzer.VertexKind(v.g, vertex) == analyzer.KindShared {
			shape = "folder"
		}
		fmt.Fprintf(v.w, "  %q [shape=%s];\n", v.rel(vertex), shape)
	}
	fmt.Fprintln(v.w)

	for _, vertex := range vertices {
		targets := make([]string, 0, len(adjacency[vertex]))
		for target := range adjacency[vertex] {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			fmt.Fprintf(v.w, "  %q -> %q;\n", v.rel(vertex), v.rel(target))
		}
	}

	fmt.Fprintln(v.w, "}")
	return nil
}

func (v graphView) printJSON() error {
	type FunctionNode struct {
		Name     string   `json:"name"`
		Dir      string   `json:"dir"`
		Includes []string `json:"includes"`
		Error    string   `json:"error,omitempty"`
	}

	type GraphOutput struct {
		Functions []FunctionNode `json:"functions"`
	}

	output := GraphOutput{
		Functions: make([]FunctionNode, 0, len(v.functions)),
	}

	for _, f := range v.functions {
		node := FunctionNode{Name: f.Name, Dir: v.rel(f.Dir), Includes: []string{}}
		if f.Err != nil {
			node.Error = f.Err.Error()
		} else {
			deps, err := v.deps(f)
			if err != nil {
				return err
			}
			node.Includes = deps
		}
		output.Functions = append(output.Functions, node)
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(v.w, string(data))
	return nil
}
