// Package cli provides the taskd command line: the HTTP server and snapshot import/export.
package cli

import (
	"github.com/mauzec/task-manager/internal/config"
	"github.com/spf13/cobra"
)

const (
	configAppName = "app"
	configExt     = "env"
	configDir     = "config"
)

type rootOptions struct {
	configDir string
}

// NewRootCommand creates the taskd command tree. Without a subcommand it serves.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskd",
		Short: "Task list HTTP service",
		Long: `taskd serves a task list over HTTP and keeps it in a pluggable backend
(file, remote KV, bbolt, redis, sqlite or memory), chosen by STORAGE_MODE.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", configDir, "directory holding app.env")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newImportCmd(opts))
	return root
}

func (o *rootOptions) loadConfig() (*config.AppConfig, error) {
	return config.LoadAppConfig(configAppName, configExt, o.configDir)
}
