package project

import (
	"github.com/collabterm/collabterm/pkg/rpc"
	"github.com/collabterm/collabterm/pkg/terminal"
	"go.uber.org/zap"
)

type Option func(*Project)

// EngineFactory builds a terminal engine for a host-created terminal.
type EngineFactory func(workingDirectory string, config TerminalConfig) (terminal.Engine, error)

func WithLogger(logger *zap.Logger) Option {
	return func(project *Project) {
		project.logger = logger.Sugar()
	}
}

// WithEngineFactory overrides how host terminals obtain their engine. The
// default spawns a shell on a PTY.
func WithEngineFactory(engineFactory EngineFactory) Option {
	return func(project *Project) {
		project.engineFactory = engineFactory
	}
}

// WithNotify registers a callback invoked after every observable change to
// the project's terminal directory, so a UI can re-render.
func WithNotify(notify func()) Option {
	return func(project *Project) {
		project.notify = notify
	}
}

// WithRPCOptions forwards options to the underlying relay connection.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(project *Project) {
		project.rpcOpts = append(project.rpcOpts, opts...)
	}
}
