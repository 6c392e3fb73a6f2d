// Command dtlrender renders a template from the command line. Engine
// settings and the variable context are supplied as YAML files.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deicod/godtl/engine"
)

func main() {
	var (
		templateDirs = flag.String("dirs", ".", "comma-separated template directories")
		settingsFile = flag.String("settings", "", "YAML settings file (optional)")
		contextFile  = flag.String("context", "", "YAML context file (optional)")
		verbose      = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dtlrender [flags] <template-name>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(flag.Arg(0), *templateDirs, *settingsFile, *contextFile, logger); err != nil {
		logger.Error("render failed", "error", err)
		os.Exit(1)
	}
}

func run(name, dirs, settingsFile, contextFile string, logger *slog.Logger) error {
	settings := engine.DefaultSettings()
	if settingsFile != "" {
		if err := loadYAML(settingsFile, &settings); err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
	}

	vars := map[string]interface{}{}
	if contextFile != "" {
		if err := loadYAML(contextFile, &vars); err != nil {
			return fmt.Errorf("loading context: %w", err)
		}
	}

	e := engine.New(settings, logger)
	e.SetLoader(engine.NewFileSystemLoader(strings.Split(dirs, ",")...))

	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return err
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		return err
	}
	_, err = os.Stdout.WriteString(out)
	return err
}

func loadYAML(path string, target interface{}) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(contents, target)
}
