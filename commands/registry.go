// Package commands holds the chat command registry, the built-in commands and
// the global invocation counters.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/onnwee/guildbot/db"
)

// ErrUsage is returned by a command run with the wrong arguments; the dispatcher
// replies with the command's usage line.
var ErrUsage = errors.New("bad usage")

// Invocation is one parsed command call.
type Invocation struct {
	Guild     *db.Guild
	Channel   string
	User      string
	Moderator bool
	Args      []string
}

// Command is a registered chat command.
type Command struct {
	Name        string
	Category    string
	Description string
	Usage       string
	// ModOnly restricts the command to the broadcaster and moderators.
	ModOnly bool
	Run     func(ctx context.Context, inv *Invocation) (string, error)
}

// Registry maps command names to commands.
type Registry struct {
	cmds map[string]*Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]*Command{}}
}

// Register adds c. Names are case-insensitive and must be unique.
func (r *Registry) Register(c Command) error {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" || c.Run == nil {
		return fmt.Errorf("register command %q: name and handler are required", c.Name)
	}
	if _, dup := r.cmds[name]; dup {
		return fmt.Errorf("register command %q: already registered", name)
	}
	c.Name = name
	if c.Category == "" {
		c.Category = "general"
	}
	r.cmds[name] = &c
	return nil
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.cmds[strings.ToLower(name)]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Commands returns the registered commands sorted by category then name.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
