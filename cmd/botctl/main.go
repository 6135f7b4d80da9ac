// Command botctl is the operator CLI for guildbot: it runs the media engine
// directly, renders the command docs and manages the database (migrations,
// token sealing and relay templates).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
