package assets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinStatusMessages(t *testing.T) {
	msgs, err := StatusMessages("")
	if err != nil {
		t.Fatalf("StatusMessages: %v", err)
	}
	if len(msgs) < 2 {
		t.Errorf("expected a pool of messages, got %q", msgs)
	}
}

func TestStatusMessagesFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.yaml")
	if err := os.WriteFile(p, []byte("messages:\n  - one\n  - two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	msgs, err := StatusMessages(p)
	if err != nil || len(msgs) != 2 || msgs[1] != "two" {
		t.Fatalf("StatusMessages = %q, %v", msgs, err)
	}

	if err := os.WriteFile(p, []byte("messages: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := StatusMessages(p); err == nil {
		t.Error("empty pool accepted")
	}
	if _, err := StatusMessages(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestDefaultTagsAreFresh(t *testing.T) {
	a, err := DefaultTags()
	if err != nil {
		t.Fatalf("DefaultTags: %v", err)
	}
	if a["help"] == "" {
		t.Errorf("missing help tag: %v", a)
	}
	a["help"] = "changed"
	b, _ := DefaultTags()
	if b["help"] == "changed" {
		t.Error("DefaultTags returned shared map")
	}
}
