package eventmap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testModule = "github.com/getpup/pupcommand/es/eventmap/testdata/events"

func discover(t *testing.T) *Generator {
	t.Helper()
	gen := NewGenerator(&Config{InputDir: "testdata/events", PackageName: "generated", ModulePath: testModule})
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	return gen
}

func TestGenerator_Discover(t *testing.T) {
	gen := discover(t)

	found := make(map[string]EventInfo)
	for _, event := range gen.Events() {
		found[event.TypeName()] = event
	}

	want := map[string]string{
		"OrderPlaced.v1":    testModule + "/v1",
		"OrderCancelled.v1": testModule + "/v1",
		"OrderPlaced.v2":    testModule + "/v2",
	}
	if len(found) != len(want) {
		t.Errorf("Discovered %d events, want %d: %v", len(found), len(want), found)
	}
	for name, importPath := range want {
		event, ok := found[name]
		if !ok {
			t.Errorf("%s not discovered", name)
			continue
		}
		if event.ImportPath != importPath {
			t.Errorf("%s import path = %q, want %q", name, event.ImportPath, importPath)
		}
	}

	// Unexported structs are not events
	for name := range found {
		if strings.HasPrefix(name, "internalNote") {
			t.Errorf("Unexported struct %s discovered", name)
		}
	}
}

func TestGenerator_DiscoverDuplicateTypeName(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"orders/v1", "billing/v1"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		src := "package v1\n\ntype Created struct{ ID string }\n"
		if err := os.WriteFile(filepath.Join(dir, sub, "events.go"), []byte(src), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	gen := NewGenerator(&Config{InputDir: dir, ModulePath: "example.com/app"})
	err := gen.Discover()
	if err == nil || !strings.Contains(err.Error(), "Created.v1 declared in both") {
		t.Errorf("Expected duplicate type name error, got: %v", err)
	}
}

func TestGenerator_ExtractVersion(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"v1/event.go", 1},
		{"v2/event.go", 2},
		{"orders/v10/event.go", 10},
		{"event.go", 1},
		{"domain/v3/events/event.go", 3},
		{"v2/legacy/v4/event.go", 4},
		{"v0/event.go", 1},
		{"vendor/event.go", 1},
		{"v2beta/event.go", 1},
	}

	gen := NewGenerator(&Config{})
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			if got := gen.extractVersion(tt.path); got != tt.want {
				t.Errorf("extractVersion(%q) = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		InputDir:    "testdata/events",
		OutputDir:   tmpDir,
		OutputFile:  "event_types.gen.go",
		PackageName: "generated",
		ModulePath:  testModule,
	}

	gen := NewGenerator(&config)
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	if err := gen.Generate(); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	// Verify file was created
	outputPath := filepath.Join(tmpDir, config.OutputFile)
	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	generatedCode := string(content)

	// Verify essential components are present
	requiredStrings := []string{
		"// Code generated by eventmap-gen. DO NOT EDIT.",
		"package generated",
		"func EventTypeOf(e any) (string, error)",
		"func RegisterEventTypes(r *serializer.TypeRegistry) error",
		"func NewTypeRegistry() (*serializer.TypeRegistry, error)",
		"case v1.OrderCancelled, *v1.OrderCancelled:",
		`r.Register("OrderPlaced.v1", v1.OrderPlaced{})`,
		`r.Register("OrderPlaced.v2", v2.OrderPlaced{})`,
		`return "OrderCancelled.v1", nil`,
	}

	for _, required := range requiredStrings {
		if !strings.Contains(generatedCode, required) {
			t.Errorf("Generated code missing required string: %s", required)
		}
	}

	// Verify imports are present
	requiredImports := []string{
		`"fmt"`,
		`"github.com/getpup/pupcommand/es/serializer"`,
		`v1 "github.com/getpup/pupcommand/es/eventmap/testdata/events/v1"`,
		`v2 "github.com/getpup/pupcommand/es/eventmap/testdata/events/v2"`,
	}

	for _, imp := range requiredImports {
		if !strings.Contains(generatedCode, imp) {
			t.Errorf("Generated code missing import: %s", imp)
		}
	}

	// Versions of the same event are registered in order
	v1Idx := strings.Index(generatedCode, `"OrderPlaced.v1", v1.OrderPlaced{}`)
	v2Idx := strings.Index(generatedCode, `"OrderPlaced.v2", v2.OrderPlaced{}`)
	if v1Idx < 0 || v2Idx < 0 || v1Idx > v2Idx {
		t.Errorf("Expected v1 registration before v2, got offsets %d and %d", v1Idx, v2Idx)
	}
}

func TestGenerator_CodeIsDeterministic(t *testing.T) {
	var outputs []string
	for i := 0; i < 2; i++ {
		code, err := discover(t).Code()
		if err != nil {
			t.Fatalf("Code() failed: %v", err)
		}
		outputs = append(outputs, code)
	}

	if outputs[0] != outputs[1] {
		t.Error("Generated code differs between runs")
	}
}

func TestEventInfo_TypeName(t *testing.T) {
	tests := []struct {
		event    EventInfo
		expected string
	}{
		{EventInfo{Name: "OrderPlaced", Version: 1}, "OrderPlaced.v1"},
		{EventInfo{Name: "OrderPlaced", Version: 2}, "OrderPlaced.v2"},
		{EventInfo{Name: "OrderPlaced", Version: 10}, "OrderPlaced.v10"},
	}

	for _, tt := range tests {
		if got := tt.event.TypeName(); got != tt.expected {
			t.Errorf("TypeName() = %q, want %q", got, tt.expected)
		}
	}
}

func TestGenerator_GenerateNoEvents(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		InputDir:    tmpDir, // Empty directory
		OutputDir:   tmpDir,
		OutputFile:  "event_types.gen.go",
		PackageName: "generated",
	}

	gen := NewGenerator(&config)

	// Discover should succeed but find nothing
	if err := gen.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	// Generate should fail with no events
	err := gen.Generate()
	if err == nil {
		t.Error("Generate() should fail when no events are discovered")
	}
	if !strings.Contains(err.Error(), "no events discovered") {
		t.Errorf("Expected 'no events discovered' error, got: %v", err)
	}
}

func TestGenerator_ExtractFields(t *testing.T) {
	gen := discover(t)

	for _, event := range gen.Events() {
		if event.TypeName() != "OrderPlaced.v2" {
			continue
		}
		got := make(map[string]FieldInfo)
		for _, f := range event.Fields {
			got[f.Name] = f
		}
		want := map[string]FieldInfo{
			"CustomerID": {Name: "CustomerID", Type: "string", JSONTag: "customer_id"},
			"Lines":      {Name: "Lines", Type: "map[string]int64", JSONTag: "lines"},
			"Currency":   {Name: "Currency", Type: "string", JSONTag: "currency"},
		}
		for name, w := range want {
			if got[name] != w {
				t.Errorf("Field %s = %+v, want %+v", name, got[name], w)
			}
		}
		return
	}
	t.Fatal("OrderPlaced.v2 not discovered")
}

func TestGenerator_OptionalField(t *testing.T) {
	gen := discover(t)

	for _, event := range gen.Events() {
		if event.TypeName() != "OrderCancelled.v1" {
			continue
		}
		if len(event.Fields) != 1 || !event.Fields[0].Optional || event.Fields[0].JSONTag != "reason" {
			t.Errorf("Unexpected fields: %+v", event.Fields)
		}
		return
	}
	t.Fatal("OrderCancelled.v1 not discovered")
}
