package analyzer

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/nicolasgere/lambdaknit/lib/config"
	"github.com/nicolasgere/lambdaknit/lib/git"
	"github.com/nicolasgere/lambdaknit/lib/stage"
	"github.com/spf13/afero"
)

// markers are the files that make a directory a function directory
var markers = []string{"event.json", "package.json", "requirements.txt"}

// ListFunctions discovers the function directories directly under root.
// A directory qualifies when it holds an override file or one of the markers.
func ListFunctions(fs afero.Fs, root string) ([]Function, error) {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var functions []Function
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || name == "node_modules" {
			continue
		}
		dir := filepath.Join(root, name)

		ok, err := isFunctionDir(fs, dir)
		if err != nil {
			return nil, err
		}
		if ok {
			functions = append(functions, Function{Name: name, Dir: dir})
		}
	}

	sort.Slice(functions, func(i, j int) bool { return functions[i].Name < functions[j].Name })
	return functions, nil
}

func isFunctionDir(fs afero.Fs, dir string) (bool, error) {
	override, err := config.FindOverrideFile(fs, dir)
	if err != nil {
		return false, err
	}
	if override != "" {
		return true, nil
	}
	for _, marker := range markers {
		exists, err := afero.Exists(fs, filepath.Join(dir, marker))
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// ResolveFunctions resolves the configuration of every function in place.
// Failures are kept per function in Err.
func ResolveFunctions(resolver *config.Resolver, functions []Function) {
	for i := range functions {
		cfg, err := resolver.Resolve(functions[i].Dir)
		functions[i].Config = cfg
		functions[i].Err = err
	}
}

// BuildDependencyGraph builds the graph of functions and the shared paths they
// include. Vertices are absolute paths, edges go from a function directory to
// the static root of each of its include patterns.
// Functions must have been resolved; unresolved ones only get a vertex.
func BuildDependencyGraph(functions []Function) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed())

	for _, f := range functions {
		err := g.AddVertex(f.Dir, graph.VertexAttribute("kind", KindFunction), graph.VertexAttribute("name", f.Name))
		if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, err
		}
	}

	for _, f := range functions {
		if f.Config == nil {
			continue
		}
		for _, include := range f.Config.Include {
			root := stage.StaticRoot(include)
			// Another function's directory keeps its function attributes
			err := g.AddVertex(root, graph.VertexAttribute("kind", KindShared))
			if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, err
			}
			err = g.AddEdge(f.Dir, root)
			if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}

	return g, nil
}

// VertexKind returns the kind attribute of a vertex.
func VertexKind(g graph.Graph[string, string], vertex string) string {
	_, props, err := g.VertexWithProperties(vertex)
	if err != nil {
		return ""
	}
	return props.Attributes["kind"]
}

// GetDependencyPaths returns the include roots of the function at dir.
func GetDependencyPaths(g graph.Graph[string, string], dir string) ([]string, error) {
	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adjacency[dir]
	if !ok {
		return nil, fmt.Errorf("vertex %s: %w", dir, graph.ErrVertexNotFound)
	}

	deps := make([]string, 0, len(edges))
	for dep := range edges {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps, nil
}

// AffectedFunctions returns the names of the functions touched by the changed
// files (absolute paths): files inside a function directory, or inside a path
// the function includes.
func AffectedFunctions(g graph.Graph[string, string], functions []Function, changedFiles []string) ([]string, error) {
	dirToName := make(map[string]string, len(functions))
	functionDirs := make([]string, 0, len(functions))
	for _, f := range functions {
		dirToName[f.Dir] = f.Name
		functionDirs = append(functionDirs, f.Dir)
	}

	affected := make(map[string]bool)
	for _, dir := range git.FindAffectedDirs(changedFiles, functionDirs) {
		affected[dirToName[dir]] = true
	}

	predecessors, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	var includeRoots []string
	for vertex, preds := range predecessors {
		if len(preds) > 0 {
			includeRoots = append(includeRoots, vertex)
		}
	}
	for _, root := range git.FindAffectedDirs(changedFiles, includeRoots) {
		for dependent := range predecessors[root] {
			if name, ok := dirToName[dependent]; ok {
				affected[name] = true
			}
		}
	}

	names := make([]string, 0, len(affected))
	for name := range affected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
