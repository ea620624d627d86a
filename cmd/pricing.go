package cmd

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func newPricingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manages conversion rates and promotion discounts",
	}
	cmd.AddCommand(newPricingShowCmd(), newConversionCmd(), newDiscountCmd())
	return cmd
}

func newPricingShowCmd() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "show PRODUCT_ID",
		Short: "Prints the display price of a product",
		Long: `Prints the marked-up price of a product converted into --currency,
or into pricing.main_currency when the flag is omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			engine := appInstance.Pricing()
			target := engine.MainCurrency()
			if currency != "" {
				if target, err = catalog.ParseCurrency(currency); err != nil {
					return err
				}
			}
			product, err := appInstance.Store().GetProduct(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load product %s: %w", args[0], err)
			}
			price, ok, err := engine.DisplayPrice(cmd.Context(), product, target)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no conversion into %s for %s", target, product.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", product.ID, price.StringFixed(2), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "display currency (defaults to pricing.main_currency)")
	return cmd
}

func newConversionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversion",
		Short: "Manages currency conversion rates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set FROM TO RATE",
		Short: "Stores a new conversion rate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			from, err := catalog.ParseCurrency(args[0])
			if err != nil {
				return err
			}
			to, err := catalog.ParseCurrency(args[1])
			if err != nil {
				return err
			}
			rate, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", args[2], err)
			}
			conv, err := appInstance.Pricing().SaveConversion(cmd.Context(), from, to, rate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %s %s\n", conv.From, conv.PricePer, conv.To)
			return nil
		},
	})
	return cmd
}

func newDiscountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discount",
		Short: "Manages promotion discounts",
		Long: `Changing a discount enqueues update_product_sale_price for every product
of the promotion; a running worker applies the new sale prices.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set PROMOTION_ID PERCENT",
			Short: "Attaches a percentage discount to a promotion",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				id, err := parsePromotionID(args[0])
				if err != nil {
					return err
				}
				pct, err := decimal.NewFromString(args[1])
				if err != nil {
					return fmt.Errorf("invalid percentage %q: %w", args[1], err)
				}
				if err := appInstance.Pricing().SaveDiscount(cmd.Context(), id, pct); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "promotion %d: discount %s%% saved\n", id, pct)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete PROMOTION_ID",
			Short: "Removes a promotion's discount",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				id, err := parsePromotionID(args[0])
				if err != nil {
					return err
				}
				if err := appInstance.Pricing().DeleteDiscount(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "promotion %d: discount removed\n", id)
				return nil
			},
		},
	)
	return cmd
}

func parsePromotionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid promotion id %q", raw)
	}
	return id, nil
}
