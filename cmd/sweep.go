package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Runs maintenance sweeps synchronously",
	}
	cmd.AddCommand(newSweepCategoriesCmd(), newSweepRecheckCmd())
	return cmd
}

func newSweepCategoriesCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Deactivates categories that hold no active product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sites := appInstance.Sites()
			if site != "" {
				s, err := catalog.ParseSite(site)
				if err != nil {
					return err
				}
				sites = []catalog.Site{s}
			}
			var errs []error
			for _, s := range sites {
				res, err := appInstance.Sweeper().DeactivateEmptyCategories(cmd.Context(), s)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", s, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: deactivated %d leaves, %d roots\n", s, len(res.Leaves), len(res.Roots))
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "limit the sweep to one site")
	return cmd
}

func newSweepRecheckCmd() *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "recheck PRODUCT_ID...",
		Short: "Rechecks the availability of products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var errs []error
			for _, id := range args {
				if submit {
					if err := appInstance.Crawler().RequestRecheck(cmd.Context(), id); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: submitted\n", id)
					continue
				}
				outcome, err := appInstance.Sweeper().Recheck(cmd.Context(), id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, outcome)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "enqueue check_product_availability instead of running it")
	return cmd
}
