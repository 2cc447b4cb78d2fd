package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestImportPathOf(t *testing.T) {
	root := t.TempDir()
	goMod := "// example module\nmodule example.com/shop\n\ngo 1.24\n"
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte(goMod), 0o600); err != nil {
		t.Fatal(err)
	}
	events := filepath.Join(root, "domain", "order", "events")
	if err := os.MkdirAll(events, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{name: "module root", dir: root, want: "example.com/shop"},
		{name: "nested directory", dir: events, want: "example.com/shop/domain/order/events"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := importPathOf(tt.dir)
			if err != nil {
				t.Fatalf("importPathOf() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("importPathOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadModulePathWithoutDirective(t *testing.T) {
	goMod := filepath.Join(t.TempDir(), "go.mod")
	if err := os.WriteFile(goMod, []byte("go 1.24\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readModulePath(goMod); err == nil {
		t.Error("expected an error for a go.mod without module directive")
	}
}
