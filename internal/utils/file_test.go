package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListImageFilesSortedAndFlat(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "c.jpeg", "d.gif"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "labels.png"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := ListImageFiles(dir)
	if err != nil {
		t.Fatalf("ListImageFiles: %v", err)
	}
	want := []string{"a.JPG", "b.png", "c.jpeg"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestListStemsMissingDir(t *testing.T) {
	stems, err := ListStems(filepath.Join(t.TempDir(), "nope"), ".txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stems) != 0 {
		t.Errorf("expected empty result, got %v", stems)
	}
}

func TestIsSafeName(t *testing.T) {
	cases := map[string]bool{
		"img.png":        true,
		"my photo.jpg":   true,
		"":               false,
		"..":             false,
		"../etc/passwd":  false,
		"sub/img.png":    false,
		`sub\img.png`:    false,
		"a..b.png":       false,
	}
	for name, want := range cases {
		if got := IsSafeName(name); got != want {
			t.Errorf("IsSafeName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := WriteFileAtomic(path, []byte("first"), 0644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("got %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/a/b/photo.final.jpg"); got != "photo.final" {
		t.Errorf("Stem = %q", got)
	}
}
