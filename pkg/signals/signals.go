// Package signals defines the signal addressing scheme shared by every part
// of the messaging layer: how client identities, group names, and per-client
// command channels map onto signal strings.
package signals

import (
	"strings"

	"github.com/samber/lo"
)

// ControlSuffix is the reserved suffix that marks a client's command signal.
// Group signals never collide with it because they are always prefixed by the
// endpoint's default signal.
const ControlSuffix = "__SIGNALRCOMMAND__"

// Qualify returns the signal for a named group under the given default signal.
func Qualify(defaultSignal, group string) string {
	return defaultSignal + "." + group
}

// Control returns the signal on which a client receives group commands.
func Control(clientID string) string {
	return clientID + "." + ControlSuffix
}

// IsControl reports whether sig is a client command signal.
func IsControl(sig string) bool {
	return strings.HasSuffix(sig, "."+ControlSuffix)
}

// GroupName extracts the group name from a signal qualified under
// defaultSignal. It returns false for the default signal itself, for command
// signals, and for signals belonging to another endpoint.
func GroupName(defaultSignal, sig string) (string, bool) {
	prefix := defaultSignal + "."
	if !strings.HasPrefix(sig, prefix) || IsControl(sig) {
		return "", false
	}
	name := strings.TrimPrefix(sig, prefix)
	if name == "" {
		return "", false
	}
	return name, true
}

// ParseGroups splits the comma separated group list presented by clients.
// Entries are trimmed and empty entries dropped.
func ParseGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			groups = append(groups, p)
		}
	}
	return groups
}

// Compute returns the ordered signal set a client listens on: the endpoint's
// default signal, the client identity, the client command signal, then one
// qualified signal per distinct requested group in first-occurrence order.
func Compute(defaultSignal, clientID string, groups []string) []string {
	sigs := []string{defaultSignal, clientID, Control(clientID)}
	for _, g := range groups {
		if g == "" {
			continue
		}
		sigs = append(sigs, Qualify(defaultSignal, g))
	}
	return lo.Uniq(sigs)
}
