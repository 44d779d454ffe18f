package agent

import (
	"os"
	"strings"
)

// BuildArgs constructs the CLI arguments for one agent invocation.
// The instruction is always the trailing positional argument.
func BuildArgs(cfg Config, instruction string) []string {
	args := []string{"--print", "--model", cfg.Model}
	if cfg.Streaming {
		args = append(args, "--output-format", "stream-json", "--verbose")
	}
	if len(cfg.Allowed) > 0 || len(cfg.Denied) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.Allowed, " "))
		args = append(args, "--disallowed-tools", strings.Join(cfg.Denied, " "))
	}
	if cfg.Hooks && cfg.SettingsPath != "" {
		args = append(args, "--settings", cfg.SettingsPath)
	}
	return append(args, instruction)
}

// childEnv returns the environment for the agent process. CLAUDECODE is
// cleared so the agent can be launched from inside a parent agent session.
func childEnv(extra map[string]string) []string {
	env := filterEnv(os.Environ(), "CLAUDECODE")
	for k, v := range extra {
		env = append(filterEnv(env, k), k+"="+v)
	}
	return env
}

// filterEnv returns a copy of environ with the named variable removed.
func filterEnv(environ []string, name string) []string {
	prefix := name + "="
	out := make([]string, 0, len(environ))
	for _, e := range environ {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}
