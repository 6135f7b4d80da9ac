// Package assets holds the data files shipped inside the binary: the status
// message pool and the default tags given to new guilds.
package assets

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var messagesYAML []byte

//go:embed tags.yaml
var tagsYAML []byte

type messageFile struct {
	Messages []string `yaml:"messages"`
}

type tagFile struct {
	Tags map[string]string `yaml:"tags"`
}

// StatusMessages returns the status message pool from path, or the built-in
// pool when path is empty.
func StatusMessages(path string) ([]string, error) {
	src := messagesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read status messages: %w", err)
		}
		src = b
	}
	var f messageFile
	if err := yaml.Unmarshal(src, &f); err != nil {
		return nil, fmt.Errorf("parse status messages: %w", err)
	}
	if len(f.Messages) == 0 {
		return nil, fmt.Errorf("parse status messages: no messages")
	}
	return f.Messages, nil
}

// DefaultTags returns a fresh copy of the tags new guilds start with.
func DefaultTags() (map[string]string, error) {
	var f tagFile
	if err := yaml.Unmarshal(tagsYAML, &f); err != nil {
		return nil, fmt.Errorf("parse default tags: %w", err)
	}
	if f.Tags == nil {
		f.Tags = map[string]string{}
	}
	return f.Tags, nil
}
