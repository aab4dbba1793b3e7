package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRunConfigInit_WritesDefaultYAML(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	require.NoError(t, runConfigInit(configInitCmd, nil))

	data, err := os.ReadFile(filepath.Join(dir, "chainidx.yaml"))
	require.NoError(t, err)

	var got yamlConfig
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, "mysql", got.Database.Driver)
	require.Equal(t, "bulk", got.Mode)
	require.Equal(t, 9000, got.InsertRowCap)
}

func TestRunConfigInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	require.NoError(t, os.WriteFile("chainidx.yaml", []byte("existing: true\n"), 0o644))
	require.Error(t, runConfigInit(configInitCmd, nil))
}
