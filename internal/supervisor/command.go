package supervisor

import (
	"os"
	"path/filepath"
	"runtime"

	"Argos-Oracle/internal/config"
	xerrors "Argos-Oracle/internal/errors"
)

// AgentBinaryName is the executable launched for each agent by default.
const AgentBinaryName = "argos-agent"

// Environment variables set on every agent process.
const (
	EnvAgent  = "ARGOS_AGENT"
	EnvRunID  = "ARGOS_RUN_ID"
	EnvConfig = "ARGOS_CONFIG"
)

// SpecsFromConfig builds one launch spec per configured agent, in order.
// Agents without an explicit command run the agent binary with
// -config <path> -agent <name>.
func SpecsFromConfig(cfg *config.Config, runID string) ([]Spec, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置为空")
	}
	binary := cfg.Supervisor.AgentBinary
	if binary == "" {
		var err error
		if binary, err = DefaultAgentBinary(); err != nil {
			return nil, err
		}
	}

	specs := make([]Spec, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		command := append([]string(nil), agent.Command...)
		if len(command) == 0 {
			command = []string{binary, "-config", cfg.Path(), "-agent", agent.Name}
		}
		specs = append(specs, Spec{
			Name:    agent.Name,
			Command: command,
			Env: []string{
				EnvAgent + "=" + agent.Name,
				EnvRunID + "=" + runID,
				EnvConfig + "=" + cfg.Path(),
			},
		})
	}
	return specs, nil
}

// DefaultAgentBinary returns the agent binary path next to the running executable.
func DefaultAgentBinary() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeConfiguration, err, "无法定位守护进程可执行文件")
	}
	name := AgentBinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(self), name), nil
}
