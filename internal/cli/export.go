package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mauzec/task-manager/internal/storage/snapshot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored tasks as a snapshot document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unknown format %q, want json or yaml", format)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			logger, err := newLogger([]string{"stderr"}, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			comp, err := newAppComponent(cmd.Context(), cfg, logger.Named("export"), true)
			if err != nil {
				return err
			}
			defer comp.close(logger)

			doc, err := comp.svc.Export(cmd.Context())
			if err != nil {
				return err
			}
			if format == formatYAML {
				if doc, err = jsonToYAML(doc); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if _, err := out.Write(doc); err != nil {
				return err
			}
			logger.Debug("tasks exported", zap.String("format", format), zap.Int("bytes", len(doc)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func jsonToYAML(doc []byte) ([]byte, error) {
	var d snapshot.Document
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, err
	}
	return yaml.Marshal(&d)
}

// readDocument returns a snapshot document from r. YAML input is converted to
// the JSON form first.
func readDocument(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var d snapshot.Document
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return snapshot.Encode(&d)
	default:
		return data, nil
	}
}
