package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func newReclaimCmd() *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Trims Rakuten products down to reclaim.per_root_cap",
		Long: `Deletes inactive and then oldest Rakuten products so that each active root
category keeps at most its share of reclaim.per_root_cap. With --submit the
work is enqueued as rakuten_clear_products instead of running here.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if submit {
				if err := appInstance.Tasks().ClearProducts(cmd.Context()); err != nil {
					return fmt.Errorf("submit reclaim: %w", err)
				}
				fmt.Fprintln(out, "reclaim submitted")
				return nil
			}
			res, err := appInstance.Engine().ClearProducts(cmd.Context(), catalog.SiteRakuten, appInstance.ReclaimConfig())
			if err != nil {
				return err
			}
			roots := make([]string, 0, len(res.Deleted))
			for root := range res.Deleted {
				roots = append(roots, root)
			}
			sort.Strings(roots)
			for _, root := range roots {
				fmt.Fprintf(out, "%s: deleted %d\n", root, res.Deleted[root])
			}
			fmt.Fprintf(out, "cap %d per root, deleted %d total\n", res.Cap, res.Total())
			return nil
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "enqueue the reclaim task instead of running it")
	return cmd
}
