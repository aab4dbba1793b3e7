package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default chainidx.yaml in the current directory",
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configInitCmd)
}

// yamlConfig is the on-disk shape of chainidx.yaml, written directly
// with yaml.Marshal rather than through viper — the same direct
// gopkg.in/yaml.v3 parsing the teacher uses for its own config.yaml in
// cmd/bd/config_local.go, as opposed to viper's own config-file
// reading used everywhere else in this package.
type yamlConfig struct {
	Database struct {
		DSN    string `yaml:"dsn"`
		Driver string `yaml:"driver"`
	} `yaml:"database"`
	Mode           string `yaml:"mode"`
	InsertRowCap   int    `yaml:"insert_row_cap"`
	SelectRowCap   int    `yaml:"select_row_cap"`
	FlushThreshold int    `yaml:"flush_threshold"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	Log            struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

func defaultYAMLConfig() yamlConfig {
	var c yamlConfig
	c.Database.DSN = "user:pass@tcp(127.0.0.1:3306)/chainidx"
	c.Database.Driver = "mysql"
	c.Mode = "bulk"
	c.InsertRowCap = 9000
	c.SelectRowCap = 1500
	c.FlushThreshold = 100000
	c.Log.Format = "text"
	c.Log.Level = "info"
	return c
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "chainidx.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("chainidx: %s already exists", path)
	}

	data, err := yaml.Marshal(defaultYAMLConfig())
	if err != nil {
		return fmt.Errorf("chainidx: marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chainidx: writing %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
