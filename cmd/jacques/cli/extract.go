package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jacquesio/jacques/internal/catalog"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/paths"
)

func newExtractCmd() *cobra.Command {
	var projectPath string
	var all bool
	var force bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract session catalogs from transcripts",
		Long: `Extract reads transcript logs and writes the per-project catalog under
each project's .jacques directory: session manifests, the plan catalog,
subagent artifacts, and the project index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (projectPath != "") {
				return fmt.Errorf("exactly one of --project or --all is required")
			}
			logging.Setup("warn", "text")

			home, err := paths.Home()
			if err != nil {
				return fmt.Errorf("resolve jacques home: %w", err)
			}
			transcriptRoot, err := paths.TranscriptRoot()
			if err != nil {
				return fmt.Errorf("resolve transcript root: %w", err)
			}
			sessionsIdx := paths.OpenIndexStore(paths.SessionsIndexFile(home))
			ex := catalog.NewExtractor(paths.ProjectsDir(transcriptRoot), sessionsIdx)

			out := cmd.OutOrStdout()
			var res catalog.Result
			if all {
				res, err = ex.ExtractAll(cmd.Context(), catalog.Options{Force: force},
					func(total, completed int, current string) {
						fmt.Fprintf(out, "[%d/%d] %s\n", completed, total, current)
					})
			} else {
				var abs string
				abs, err = filepath.Abs(projectPath)
				if err != nil {
					return err
				}
				res, err = ex.ExtractProject(cmd.Context(), abs, catalog.Options{Force: force})
			}
			if err != nil {
				return err
			}
			if ferr := sessionsIdx.Flush(); ferr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: sessions index not saved: %v\n", ferr)
			}

			fmt.Fprintf(out, "extracted %d session(s), skipped %d\n", res.Extracted, res.Skipped)
			for _, msg := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "extract a single project by its path")
	cmd.Flags().BoolVar(&all, "all", false, "extract every project with transcripts")
	cmd.Flags().BoolVar(&force, "force", false, "re-extract sessions whose manifests are already current")

	return cmd
}
