package magick

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSize(t *testing.T) {
	e := stubEngine(t, "", `printf '640 480\n320 240\n'`)

	sz, err := e.Open(FromFile("in.gif")).Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sz != (Size{Width: 640, Height: 480}) {
		t.Fatalf("Size = %+v, want 640x480", sz)
	}
}

func TestSizeForwardsEngineError(t *testing.T) {
	e := stubEngine(t, "", `echo "identify: unable to open image 'nope.png'" >&2
exit 1`)

	_, err := e.Open(FromFile("nope.png")).Size(context.Background())
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v (%T), want *EngineError", err, err)
	}
	if ee.Op != "size" {
		t.Errorf("Op = %q, want size", ee.Op)
	}
	if got := Diagnostic(err); got != "identify: unable to open image 'nope.png'\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestIdentify(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("STUB_ARGS_FILE", argsFile)
	e := stubEngine(t, "", `printf '%s\n' "$@" > "$STUB_ARGS_FILE"
printf 'GIF|100|50|8|PseudoClass|2.1KB\n'
printf 'GIF|100|50|8|PseudoClass|2.1KB\n'
printf 'GIF|100|50|8|PseudoClass|2.1KB\n'`)

	md, err := e.Open(FromFile("anim.gif")).Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	want := Metadata{Format: "GIF", Width: 100, Height: 50, Depth: 8, Class: "PseudoClass", FileSize: "2.1KB", Frames: 3}
	if md != want {
		t.Fatalf("Identify = %+v, want %+v", md, want)
	}
	// the format string ends in a newline, so it spans two recorded lines
	got := readArgs(t, argsFile)
	wantArgs := []string{"-format", "%m|%w|%h|%z|%r|%b", "", "anim.gif"}
	if !reflect.DeepEqual(got, wantArgs) {
		t.Fatalf("identify args = %q, want %q", got, wantArgs)
	}
}

func TestIdentifyRejectsUnexpectedOutput(t *testing.T) {
	e := stubEngine(t, "", `printf 'garbage\n'`)
	if _, err := e.Open(FromFile("x.png")).Identify(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}

	e = stubEngine(t, "", `exit 0`)
	if _, err := e.Open(FromFile("x.png")).Identify(context.Background()); err == nil {
		t.Fatal("expected empty output error")
	}
}

func TestWriteRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.png")
	e := stubEngine(t, `for a; do last=$a; done
printf 'PNGDATA' > "${last#*:}"`, "")

	if err := e.Open(FromFile("in.gif")).Write(context.Background(), target); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(b) != "PNGDATA" {
		t.Fatalf("target = %q", b)
	}
	requireDirEntries(t, dir, "out.png")
}

func TestWriteUsesDistinctTemporaries(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.png")
	argsDir := t.TempDir()
	t.Setenv("STUB_ARGS_DIR", argsDir)
	e := stubEngine(t, `for a; do last=$a; done
printf '%s\n' "${last#*:}" > "$STUB_ARGS_DIR/$$"
printf 'PNGDATA' > "${last#*:}"`, "")

	for range 2 {
		if err := e.Open(FromFile("in.gif")).Write(context.Background(), target); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	entries, err := os.ReadDir(argsDir)
	if err != nil || len(entries) != 2 {
		t.Fatalf("recorded %d invocations, err %v", len(entries), err)
	}
	var names []string
	for _, ent := range entries {
		got := readArgs(t, filepath.Join(argsDir, ent.Name()))
		if got[0] == target || filepath.Dir(got[0]) != dir {
			t.Errorf("engine wrote %q, want a temporary beside %q", got[0], target)
		}
		names = append(names, got[0])
	}
	if names[0] == names[1] {
		t.Errorf("both writes used %q", names[0])
	}
	requireDirEntries(t, dir, "out.png")
}

func TestWriteMultiFrameToSingleImageFormat(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.png")
	// ImageMagick splits frames into name-N.ext when the format holds one image.
	e := stubEngine(t, `for a; do last=$a; done
out=${last#*:}
base=${out%.png}
printf 'f0' > "$base-0.png"
printf 'f1' > "$base-1.png"`, "")

	err := e.Open(FromFile("anim.gif")).Write(context.Background(), target)
	if !errors.Is(err, ErrMultiFrame) {
		t.Fatalf("err = %v, want ErrMultiFrame", err)
	}
	requireDirEntries(t, dir)
}

func requireDirEntries(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var got []string
	for _, ent := range entries {
		got = append(got, ent.Name())
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dir entries = %q, want %q", got, want)
	}
}

func TestWriteFailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.png")
	e := stubEngine(t, `for a; do last=$a; done
printf 'half' > "${last#*:}"
echo "convert: corrupt image" >&2
exit 1`, "")

	err := e.Open(FromFile("in.gif")).Write(context.Background(), target)
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *EngineError", err)
	}
	requireDirEntries(t, dir)
}

func TestWriteSpawnFailure(t *testing.T) {
	e := New(Options{ConvertPath: filepath.Join(t.TempDir(), "nope")})
	err := e.Open(FromFile("in.gif")).Write(context.Background(), filepath.Join(t.TempDir(), "o.png"))
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("err = %v, want ErrSpawn", err)
	}
}

func TestCoderPrefix(t *testing.T) {
	cases := map[string]string{
		"out.png":      "PNG:",
		"/a/b/c.webp":  "WEBP:",
		"noext":        "",
		"dir.d/file":   "",
		"clip.gif.ogg": "OGG:",
	}
	for in, want := range cases {
		if got := coderPrefix(in); got != want {
			t.Errorf("coderPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{in: "10 20\n", want: Size{10, 20}},
		{in: "\n 7 9 \n1 1\n", want: Size{7, 9}},
		{in: "", wantErr: true},
		{in: "10\n", wantErr: true},
		{in: "a b\n", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSize([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSize(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
