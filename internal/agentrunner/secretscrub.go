package agentrunner

import "strings"

// SecretScrubPrefix builds an `unset <vars>` prefix to inject before every
// bash-tool invocation the agent runs, so a shell command can never read a
// host-provisioned credential out of its own environment. Retargeted from
// shared.RedactEnvValue's log-line redaction (which scrubs a secret value
// after the fact) to scrubbing the variable out of the environment before
// the command ever executes.
func SecretScrubPrefix(secretEnvVars []string) string {
	if len(secretEnvVars) == 0 {
		return ""
	}
	return "unset " + strings.Join(secretEnvVars, " ") + "; "
}

// ScrubBashCommand prepends the secret-scrub prefix to command, unless
// command already starts with an unset of the same variables (idempotent
// under repeated wrapping, e.g. if a hook runs twice for one tool call).
func ScrubBashCommand(command string, secretEnvVars []string) string {
	prefix := SecretScrubPrefix(secretEnvVars)
	if prefix == "" || strings.HasPrefix(strings.TrimSpace(command), "unset ") {
		return command
	}
	return prefix + command
}
