package cli

import (
	"fmt"
	"os"

	"github.com/mauzec/task-manager/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored tasks with a snapshot document",
		Long: `Replace the stored tasks with a snapshot document (.json, .yaml or .yml).
A running server picks the change up on SIGHUP.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := readDocument(f, args[0])
			if err != nil {
				return err
			}

			// the stored state is overwritten, so a corrupt one is not fatal here
			comp, err := newAppComponent(cmd.Context(), cfg, logger.Named("import"), false)
			if err != nil {
				return err
			}
			defer comp.close(logger)

			if err := comp.svc.Import(cmd.Context(), doc); err != nil {
				return err
			}
			var n int
			comp.store.View(func(s *state.State) {
				n = len(s.Tasks)
			})
			logger.Info("tasks imported", zap.String("file", args[0]), zap.Int("tasks", n))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tasks into %s storage\n", n, cfg.ResolveStorageMode())
			return nil
		},
	}
}
