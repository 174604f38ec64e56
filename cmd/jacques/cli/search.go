package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacquesio/jacques/internal/archive"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/search"
)

func newSearchCmd() *cobra.Command {
	var project string
	var tech []string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <keywords>",
		Short: "Search the conversation archive",
		Long: `Search queries the archive's keyword index and prints matching sessions,
newest first. Run 'jacques serve' and POST /api/archive/initialize (or use
extract) first so there is an archive to search.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			store, err := archive.Open(home, paths.ProjectsDir(transcriptRoot), sessionsIdx)
			if err != nil {
				return err
			}

			q := search.Query{
				Text:         strings.Join(args, " "),
				ProjectID:    encodeProjectFilter(project),
				Technologies: tech,
				Limit:        limit,
			}
			hits := store.Search(q)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, h := range hits {
				line := fmt.Sprintf("%s  %s", h.ManifestID, h.Title)
				if !h.EndedAt.IsZero() {
					line += fmt.Sprintf("  (%s)", h.EndedAt.Format("2006-01-02"))
				}
				if len(h.Technologies) > 0 {
					line += "  [" + strings.Join(h.Technologies, ", ") + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "limit to one project (path or encoded directory name)")
	cmd.Flags().StringSliceVar(&tech, "tech", nil, "require technologies (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default 20, capped at 50)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")

	return cmd
}

// encodeProjectFilter accepts either a real project path or an
// already-encoded transcript directory name.
func encodeProjectFilter(project string) string {
	if strings.HasPrefix(project, "/") {
		return paths.EncodeProjectPath(project)
	}
	return project
}
