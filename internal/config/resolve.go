package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// secretCommandTimeout bounds a $(...) lookup so a hung password manager
// cannot stall startup.
const secretCommandTimeout = 30 * time.Second

// ResolveValue expands a reference in a secret-bearing setting:
//
//	$(command)    trimmed stdout of the shell command
//	${VAR}, $VAR  environment variable
//
// Other values are returned trimmed but otherwise unchanged.
func ResolveValue(value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		return runSecretCommand(value[2 : len(value)-1])
	case strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"):
		return os.Getenv(value[2 : len(value)-1]), nil
	case strings.HasPrefix(value, "$"):
		return os.Getenv(value[1:]), nil
	}
	return value, nil
}

func runSecretCommand(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), secretCommandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", command).Output()
	if ctx.Err() != nil {
		return "", fmt.Errorf("secret command %q timed out after %s", command, secretCommandTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", fmt.Errorf("secret command %q exited %d: %s", command, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
	}
	if err != nil {
		return "", fmt.Errorf("secret command %q: %w", command, err)
	}
	return strings.TrimSpace(string(out)), nil
}
