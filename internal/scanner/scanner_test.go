package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestScanner_ExcludesGlobsAndDirectories(t *testing.T) {
	root := t.TempDir()
	mustWrite := func(rel string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	mustWrite("a.txt")
	mustWrite("b.log")
	mustWrite("node_modules/pkg/index.js")
	mustWrite("keep/c.txt")

	s := New([]string{root}, []string{"*.log", "node_modules/**"})

	var got []string
	err := s.Scan(context.Background(), func(e Entry) error {
		got = append(got, e.RelPath)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sort.Strings(got)

	want := []string{"a.txt", "keep/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestScanner_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644)

	s := New([]string{root}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Scan(ctx, func(e Entry) error { return nil })
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
