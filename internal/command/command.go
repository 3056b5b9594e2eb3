// Package command builds the startup command for the action execution server
// that runs inside the sandbox container. The server owns the control port and
// must answer GET /alive once it is ready.
package command

import (
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Options parameterizes the in-sandbox server invocation.
type Options struct {
	Port       int
	WorkingDir string
	Plugins    []string
	// SetupCommands run before the server starts, e.g. package registry
	// configuration. Failures there must not keep the server from starting.
	SetupCommands []string
	// OverrideUser and OverrideUID switch the server process to another user.
	// Both empty/nil leaves the container's configured user in place.
	OverrideUser string
	OverrideUID  *int64
}

// Startup returns the container command (argv form) that launches the action
// execution server.
func Startup(opts Options) []string {
	args := []string{"/sandbox/bin/action-execution-server", "--port", strconv.Itoa(opts.Port)}
	if opts.WorkingDir != "" {
		args = append(args, "--working-dir", opts.WorkingDir)
	}
	if len(opts.Plugins) > 0 {
		args = append(args, "--plugins", strings.Join(opts.Plugins, ","))
	}
	if opts.OverrideUID != nil {
		args = append(args, "--user-id", strconv.FormatInt(*opts.OverrideUID, 10))
	}

	script := shellquote.Join(args...)
	if len(opts.SetupCommands) > 0 {
		script = strings.Join(append(append([]string{}, opts.SetupCommands...), "exec "+script), "; ")
	} else {
		script = "exec " + script
	}
	if opts.OverrideUser != "" {
		return []string{"su", opts.OverrideUser, "-c", script}
	}
	return []string{"/bin/bash", "-lc", script}
}
