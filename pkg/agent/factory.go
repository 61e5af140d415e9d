package agent

import (
	"fmt"

	"agentloop/pkg/config"
)

// NewInvoker constructs the configured backend. Observers receive streaming
// output from every invocation made through the returned Invoker. repoRoot
// is the working directory for backends that spawn a subprocess.
func NewInvoker(cfg *config.Config, repoRoot string, observers ...Observer) (Invoker, error) {
	switch cfg.Backend {
	case config.BackendCLI:
		return NewCLIInvoker(cfg, observers...).WithRepoRoot(repoRoot), nil
	case config.BackendAPI:
		return NewAPIInvoker(cfg, observers...)
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Backend)
	}
}
