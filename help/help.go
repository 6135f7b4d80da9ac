// Package help renders the command reference from the registry, as Markdown or,
// for .html targets, as an HTML page rendered with goldmark.
package help

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/onnwee/guildbot/commands"
)

var (
	mdOnce sync.Once
	md     goldmark.Markdown
)

func markdown() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return md
}

// Markdown renders the command reference for cmds using prefix in examples.
func Markdown(botName, prefix string, cmds []commands.Command) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s commands\n\n", botName)
	fmt.Fprintf(&b, "The default command prefix is `%s`. Guild moderators can change it with `%sprefix`.\n", prefix, prefix)

	category := ""
	for _, c := range cmds {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(&b, "\n## %s\n\n", titleCase(category))
			b.WriteString("| Command | Description | Moderators only |\n|---|---|---|\n")
		}
		mod := ""
		if c.ModOnly {
			mod = "yes"
		}
		fmt.Fprintf(&b, "| `%s%s` | %s | %s |\n", prefix, c.Usage, escapeCell(c.Description), mod)
	}
	return b.Bytes()
}

// HTML renders the same reference as a standalone HTML page.
func HTML(botName, prefix string, cmds []commands.Command) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown().Convert(Markdown(botName, prefix, cmds), &body); err != nil {
		return nil, fmt.Errorf("render help html: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s commands</title>\n</head>\n<body>\n", botName)
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// Generate writes the reference to path, as HTML when path ends in .html or .htm.
func Generate(path, botName, prefix string, cmds []commands.Command) error {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		out, err = HTML(botName, prefix, cmds)
		if err != nil {
			return err
		}
	default:
		out = Markdown(botName, prefix, cmds)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create docs dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write docs: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write docs: %w", err)
	}
	slog.Info("generated command docs", slog.String("path", path), slog.Int("commands", len(cmds)), slog.String("component", "help"))
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
