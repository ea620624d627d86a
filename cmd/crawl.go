package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/config"
	"github.com/JakeFAU/catalog-ingest/internal/tasks"
)

func newCrawlCmd() *cobra.Command {
	var (
		site      string
		genreID   string
		parseMore bool
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a category crawl",
		Long: `Submits parse_genres for a site. The crawl then fans out through
save_genre and parse_items tasks handled by the workers. Without --genre the
crawl starts at the site's root category.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s, err := catalog.ParseSite(site)
			if err != nil {
				return err
			}
			id, err := appInstance.Tasks().Submit(cmd.Context(), tasks.ParseGenres, tasks.ParseGenresArgs{
				Site:      s,
				GenreID:   genreID,
				ParseMore: parseMore,
			})
			if err != nil {
				return fmt.Errorf("submit crawl: %w", err)
			}
			logger := appInstance.Logger()
			logger.Info("crawl submitted", zap.String("task_id", id), zap.String("site", string(s)))
			fmt.Fprintln(cmd.OutOrStdout(), id)

			if appInstance.Config().Queue.Provider == config.ProviderMemory && !wait {
				logger.Warn("in-memory queue: tasks are lost on exit; pass --wait to run workers in-process")
			}
			if wait {
				runWorkers(cmd.Context(), appInstance, false)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", string(catalog.SiteRakuten), "site to crawl")
	cmd.Flags().StringVar(&genreID, "genre", "", "remote category id to start from")
	cmd.Flags().BoolVar(&parseMore, "parse-more", true, "follow child categories and item pages")
	cmd.Flags().BoolVar(&wait, "wait", false, "run workers in-process until interrupted")
	return cmd
}
