//go:build windows

package fedcomm

import "net"

// reusableListenConfig on Windows returns a plain ListenConfig:
// SO_REUSEADDR has different (and looser) semantics under Winsock than
// on the Unix platforms golang.org/x/sys/unix targets, so
// Config.ReuseAddress is accepted but has no effect here rather than
// risk silently changing Windows bind-conflict behavior.
func reusableListenConfig(reuse bool) *net.ListenConfig {
	return &net.ListenConfig{}
}
