package analyzer

import "github.com/nicolasgere/lambdaknit/lib/config"

// Function is a function directory found in a project
type Function struct {
	Name   string                 `json:"name"`
	Dir    string                 `json:"dir"`
	Config *config.FunctionConfig `json:"config,omitempty"`
	// Err holds the resolution failure, Config is nil then.
	Err error `json:"-"`
}

const (
	KindFunction = "function"
	KindShared   = "shared"
)
