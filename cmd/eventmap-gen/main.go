// Command eventmap-gen generates serializer type registrations for domain events.
//
// Usage:
//
//	go run github.com/getpup/pupcommand/cmd/eventmap-gen \
//	  -input internal/domain/account/events \
//	  -output internal/infrastructure/account/generated
//
// The tool discovers exported structs in the input directory and writes a file
// registering each one with a serializer.TypeRegistry.
//
// # Versioned Events
//
// Subdirectories named v1, v2, v3, etc. give the event version:
//
//	events/
//	  v1/
//	    account_opened.go
//	  v2/
//	    account_opened.go  // New version with different schema
//
// If no version directory exists, the default version is 1. Each struct is
// registered as "<Name>.v<Version>".
//
// # Generated Code
//
//   - EventTypeOf(e any) resolves the registered name of a domain event
//   - RegisterEventTypes(r) adds every event to an existing registry
//   - NewTypeRegistry() returns a registry holding every event
//
// Domain events stay free of any dependency on this module; only the generated
// file imports the serializer package.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/getpup/pupcommand/es/eventmap"
)

func main() {
	defaults := eventmap.DefaultConfig()
	var (
		inputDir    = flag.String("input", "", "Input directory containing domain events (required)")
		outputDir   = flag.String("output", "", "Output directory for generated code (required)")
		outputFile  = flag.String("filename", defaults.OutputFile, "Output filename")
		packageName = flag.String("package", defaults.PackageName, "Package name for generated code")
		modulePath  = flag.String("module", "", "Import path of the input directory (detected from go.mod if empty)")
	)
	flag.Parse()

	if *inputDir == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -output are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(eventmap.Config{
		InputDir:    *inputDir,
		OutputDir:   *outputDir,
		OutputFile:  *outputFile,
		PackageName: *packageName,
		ModulePath:  *modulePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(config eventmap.Config) error {
	var err error
	if config.InputDir, err = filepath.Abs(config.InputDir); err != nil {
		return fmt.Errorf("invalid input directory: %w", err)
	}
	if config.OutputDir, err = filepath.Abs(config.OutputDir); err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if config.ModulePath == "" {
		if config.ModulePath, err = importPathOf(config.InputDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v; using relative import paths, consider -module\n", err)
		}
	}

	generator := eventmap.NewGenerator(&config)
	fmt.Printf("Discovering events in %s...\n", config.InputDir)
	if err := generator.Discover(); err != nil {
		return err
	}
	fmt.Printf("Generating type registrations for %d events...\n", len(generator.Events()))
	if err := generator.Generate(); err != nil {
		return err
	}
	fmt.Printf("Successfully generated: %s\n", filepath.Join(config.OutputDir, config.OutputFile))
	return nil
}

// importPathOf resolves the import path of dir from the nearest enclosing go.mod.
func importPathOf(dir string) (string, error) {
	for root := dir; ; {
		module, err := readModulePath(filepath.Join(root, "go.mod"))
		switch {
		case err == nil:
			rel, err := filepath.Rel(root, dir)
			if err != nil || rel == "." {
				return module, nil
			}
			return path.Join(module, filepath.ToSlash(rel)), nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}

		parent := filepath.Dir(root)
		if parent == root {
			return "", errors.New("go.mod not found")
		}
		root = parent
	}
}

func readModulePath(goMod string) (string, error) {
	f, err := os.Open(goMod)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "module "); ok {
			return strings.Trim(strings.TrimSpace(rest), `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", goMod, err)
	}
	return "", fmt.Errorf("no module directive in %s", goMod)
}
