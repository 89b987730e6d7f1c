// Package prompts holds the embedded phase prompt templates. Workspace
// overrides under .ralph/prompts/ take precedence over the embedded copies.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*
var embeddedPrompts embed.FS

// Get returns the prompt content from embedded templates
func Get(name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		name = name + ".md"
	}
	content, err := embeddedPrompts.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt %s not found: %w", name, err)
	}
	return string(content), nil
}

// GetForWorkspace returns prompt content, checking .ralph/prompts/ first
func GetForWorkspace(projectRoot, name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		name = name + ".md"
	}
	localPath := filepath.Join(projectRoot, ".ralph", "prompts", name)
	if data, err := os.ReadFile(localPath); err == nil {
		return string(data), nil
	}
	return Get(name)
}

// ListAvailable returns all embedded prompt names
func ListAvailable() ([]string, error) {
	entries, err := embeddedPrompts.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
		}
	}
	return names, nil
}
