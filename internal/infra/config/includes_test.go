package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "conf.d"), 0o700))
	writeConfig(t, dir, "conf.d/10-api.yaml", "api:\n  channel: \"from-include\"\n  token: \"inc-token\"\n")
	writeConfig(t, dir, "conf.d/20-log.yaml", "logger:\n  level: \"warn\"\n")
	main := writeConfig(t, dir, "config.yaml", "includes: [\"conf.d/*.yaml\"]\napi:\n  channel: \"main\"\n")

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.API.Channel, "main file wins")
	assert.Equal(t, "inc-token", cfg.API.Token)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Nil(t, cfg.Includes)
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "b.yaml", "session:\n  assistant_label: \"Nested\"\n")
	writeConfig(t, dir, "a.yaml", "includes: [\"b.yaml\"]\n")
	main := writeConfig(t, dir, "config.yaml", "includes: [\"a.yaml\"]\n")

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "Nested", cfg.Session.AssistantLabel)
}

func TestIncludesCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes: [\"b.yaml\"]\n")
	writeConfig(t, dir, "b.yaml", "includes: [\"a.yaml\"]\n")
	main := writeConfig(t, dir, "config.yaml", "includes: [\"a.yaml\"]\n")

	_, err := Load(main)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular include")
}

func TestIncludesTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes: [\"../outside.yaml\"]\n")

	_, err := Load(main)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes config directory")
}

func TestIncludesMissingLiteralFile(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes: [\"missing.yaml\"]\n")

	_, err := Load(main)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestIncludesEmptyGlob(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes: [\"conf.d/*.yaml\"]\n")

	_, err := Load(main)
	assert.NoError(t, err)
}

func TestExpandIncludeAbsolute(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "x.yaml")
	paths, err := expandInclude(abs, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, paths)
}

func TestIncludesMaxDepth(t *testing.T) {
	cfg := Defaults()
	cfg.Includes = []string{"x.yaml"}
	err := processIncludes(cfg, t.TempDir(), map[string]bool{}, maxIncludeDepth+1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max depth")
}
