package eventmap

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	pathpkg "path"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

var (
	versionDir = regexp.MustCompile(`(?:^|/)v(\d+)(?:/|$)`)
	jsonTag    = regexp.MustCompile(`json:"([^"]*)"`)
)

// EventInfo describes a discovered domain event struct.
type EventInfo struct {
	Name        string
	PackageName string
	ImportPath  string
	Fields      []FieldInfo
	Version     int
}

// TypeName returns the name an event is registered under in a serializer.TypeRegistry.
func (e EventInfo) TypeName() string {
	return fmt.Sprintf("%s.v%d", e.Name, e.Version)
}

// FieldInfo describes an exported struct field.
type FieldInfo struct {
	Name     string
	Type     string
	JSONTag  string
	Optional bool
}

// Config configures the code generation.
type Config struct {
	InputDir    string // Directory containing domain events
	OutputDir   string // Directory where generated code will be written
	OutputFile  string // Name of the generated file (default: event_types.gen.go)
	PackageName string // Package name for generated code
	ModulePath  string // Import path of InputDir
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		OutputFile:  "event_types.gen.go",
		PackageName: "generated",
	}
}

// Generator discovers event structs and writes their registrations.
type Generator struct {
	config Config
	events []EventInfo
}

// NewGenerator creates a new generator with the given configuration.
func NewGenerator(config *Config) *Generator {
	return &Generator{config: *config}
}

// Events returns the discovered events.
func (g *Generator) Events() []EventInfo {
	return g.events
}

// Discover walks the input directory and collects every exported struct.
// Generated files and tests are skipped. Two structs resolving to the same
// type name are an error.
func (g *Generator) Discover() error {
	seen := make(map[string]string)
	err := filepath.WalkDir(g.config.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".go" ||
			strings.HasSuffix(path, "_test.go") || strings.HasSuffix(path, ".gen.go") {
			return nil
		}

		file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.SkipObjectResolution)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		rel, err := filepath.Rel(g.config.InputDir, path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		version := g.extractVersion(filepath.ToSlash(rel))
		importPath := g.buildImportPath(path)

		for _, info := range structsOf(file) {
			info.PackageName = file.Name.Name
			info.ImportPath = importPath
			info.Version = version
			if prev, dup := seen[info.TypeName()]; dup && prev != importPath {
				return fmt.Errorf("%s declared in both %s and %s", info.TypeName(), prev, importPath)
			}
			seen[info.TypeName()] = importPath
			g.events = append(g.events, info)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discover events in %s: %w", g.config.InputDir, err)
	}
	return nil
}

// structsOf returns the top-level exported struct declarations of file with their fields.
func structsOf(file *ast.File) []EventInfo {
	var out []EventInfo
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok || !ts.Name.IsExported() || ts.TypeParams != nil {
				continue
			}
			if st, ok := ts.Type.(*ast.StructType); ok {
				out = append(out, EventInfo{Name: ts.Name.Name, Fields: extractFields(st)})
			}
		}
	}
	return out
}

// extractVersion returns the number of the innermost vN directory of a
// slash-separated path, or 1 when there is none.
func (g *Generator) extractVersion(path string) int {
	version := 1
	for _, m := range versionDir.FindAllStringSubmatch(path, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			version = v
		}
	}
	return version
}

// buildImportPath returns the import path of the package holding filePath.
// Without a module path the path relative to the input directory is used.
func (g *Generator) buildImportPath(filePath string) string {
	rel, err := filepath.Rel(g.config.InputDir, filepath.Dir(filePath))
	if err != nil {
		rel = filepath.Dir(filePath)
	}
	rel = filepath.ToSlash(rel)
	if g.config.ModulePath == "" {
		return rel
	}
	if rel == "." {
		return g.config.ModulePath
	}
	return pathpkg.Join(g.config.ModulePath, rel)
}

func extractFields(st *ast.StructType) []FieldInfo {
	var fields []FieldInfo
	for _, field := range st.Fields.List {
		// Embedded fields have no names and are skipped
		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}
			info := FieldInfo{Name: name.Name, Type: typeToString(field.Type)}
			if field.Tag != nil {
				if m := jsonTag.FindStringSubmatch(field.Tag.Value); m != nil {
					opts := strings.Split(m[1], ",")
					info.JSONTag = opts[0]
					info.Optional = slices.Contains(opts[1:], "omitempty")
				}
			}
			fields = append(fields, info)
		}
	}
	return fields
}

func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			if lit, ok := t.Len.(*ast.BasicLit); ok {
				return "[" + lit.Value + "]" + typeToString(t.Elt)
			}
		}
		return "[]" + typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + typeToString(t.Key) + "]" + typeToString(t.Value)
	case *ast.SelectorExpr:
		return typeToString(t.X) + "." + t.Sel.Name
	default:
		return "any"
	}
}

// Generate generates the registration code and writes it to the output file.
func (g *Generator) Generate() error {
	code, err := g.Code()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(g.config.OutputDir, g.config.OutputFile)
	if err := os.WriteFile(outputPath, []byte(code), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// Code returns the generated source, formatted with go/format.
func (g *Generator) Code() (string, error) {
	if len(g.events) == 0 {
		return "", fmt.Errorf("no events discovered in %s", g.config.InputDir)
	}

	packages := make(map[string]string)
	for _, e := range g.events {
		if prev, ok := packages[e.PackageName]; ok && prev != e.ImportPath {
			return "", fmt.Errorf("packages %s and %s are both named %s", prev, e.ImportPath, e.PackageName)
		}
		packages[e.PackageName] = e.ImportPath
	}

	// Sort events by name and version for deterministic output
	sort.Slice(g.events, func(i, j int) bool {
		if g.events[i].Name != g.events[j].Name {
			return g.events[i].Name < g.events[j].Name
		}
		return g.events[i].Version < g.events[j].Version
	})

	var sb strings.Builder
	sb.WriteString(g.generateHeader())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateImports())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateEventTypeOf())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateRegister())

	formatted, err := format.Source([]byte(sb.String()))
	if err != nil {
		return "", fmt.Errorf("failed to format generated code: %w", err)
	}
	return string(formatted), nil
}

// generateHeader generates the file header.
func (g *Generator) generateHeader() string {
	return fmt.Sprintf(`// Code generated by eventmap-gen. DO NOT EDIT.

package %s`, g.config.PackageName)
}

// generateImports generates the import statements.
func (g *Generator) generateImports() string {
	var sb strings.Builder

	sb.WriteString("import (\n")
	sb.WriteString("\t\"fmt\"\n")
	sb.WriteString("\n")
	sb.WriteString("\t\"github.com/getpup/pupcommand/es/serializer\"\n")

	importPaths := make(map[string]string)
	for _, event := range g.events {
		if event.ImportPath != "" {
			importPaths[event.ImportPath] = event.PackageName
		}
	}

	if len(importPaths) > 0 {
		sb.WriteString("\n")
		paths := make([]string, 0, len(importPaths))
		for path := range importPaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			sb.WriteString(fmt.Sprintf("\t%s %q\n", importPaths[path], path))
		}
	}

	sb.WriteString(")")
	return sb.String()
}

func (g *Generator) qualified(e EventInfo) string {
	return e.PackageName + "." + e.Name
}

// generateEventTypeOf generates the EventTypeOf function.
func (g *Generator) generateEventTypeOf() string {
	var sb strings.Builder
	sb.WriteString(`// EventTypeOf returns the registered type name of a domain event.
// Both values and pointers are accepted.
func EventTypeOf(e any) (string, error) {
	switch e.(type) {
`)
	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tcase %s, *%s:\n\t\treturn %q, nil\n", g.qualified(event), g.qualified(event), event.TypeName()))
	}
	sb.WriteString(`	default:
		return "", fmt.Errorf("unknown event type %T", e)
	}
}`)
	return sb.String()
}

// generateRegister generates RegisterEventTypes and NewTypeRegistry.
func (g *Generator) generateRegister() string {
	var sb strings.Builder
	sb.WriteString(`// RegisterEventTypes binds every discovered event to its type name.
func RegisterEventTypes(r *serializer.TypeRegistry) error {
`)
	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tif err := r.Register(%q, %s{}); err != nil {\n\t\treturn err\n\t}\n", event.TypeName(), g.qualified(event)))
	}
	sb.WriteString(`	return nil
}

// NewTypeRegistry returns a registry holding every discovered event.
func NewTypeRegistry() (*serializer.TypeRegistry, error) {
	r := serializer.NewTypeRegistry()
	if err := RegisterEventTypes(r); err != nil {
		return nil, err
	}
	return r, nil
}
`)
	return sb.String()
}
