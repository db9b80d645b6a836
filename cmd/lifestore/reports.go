package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/lifestore/lifestore/domains/food"
	"github.com/arthur-debert/lifestore/lifestore/domains/payments"
)

func (cli *CLI) addReportCommands() {
	report := &cobra.Command{
		Use:   "report",
		Short: "Summaries computed by the payments and food services",
	}
	report.AddCommand(cli.paymentsReportCommand(), cli.foodReportCommand())
	cli.rootCmd.AddCommand(report)

	cli.rootCmd.AddCommand(cli.exportCommand(), cli.linkCommand())
}

// parseDay parses a YYYY-MM-DD flag; empty means unset
func parseDay(cmd *cobra.Command, flag string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(flag)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(food.DateLayout, raw)
	if err != nil {
		return t, NewValidationError("parse dates", "--"+flag, raw, "Use the YYYY-MM-DD format")
	}
	return t, nil
}

func (cli *CLI) paymentsReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Sent and received totals per platform and category",
		Long: `Summarize payment activity between --start and --end (inclusive days).
Totals only count completed transactions.

Examples:
  lifestore report payments
  lifestore report payments --start 2026-01-01 --end 2026-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			start, err := parseDay(cmd, "start")
			if err != nil {
				return err
			}
			end, err := parseDay(cmd, "end")
			if err != nil {
				return err
			}
			if !end.IsZero() {
				end = end.Add(24*time.Hour - time.Second)
			}

			h, err := cli.openDomain(cmd, payments.Domain)
			if err != nil {
				return err
			}
			svc, err := payments.New(h)
			if err != nil {
				return WrapError("summarize payments", err)
			}
			sum, err := svc.Analytics(cmd.Context(), start, end)
			if err != nil {
				return WrapError("summarize payments", err)
			}
			if done, err := p.structured(sum); done {
				return err
			}

			platforms := make([]string, 0, len(sum.ByPlatform))
			for pl := range sum.ByPlatform {
				platforms = append(platforms, string(pl))
			}
			sort.Strings(platforms)
			var rows [][]string
			for _, pl := range platforms {
				t := sum.ByPlatform[payments.Platform(pl)]
				rows = append(rows, []string{pl, formatCell(t.Sent), formatCell(t.Received), strconv.Itoa(t.Count)})
			}
			rows = append(rows, []string{"total", formatCell(sum.TotalSent), formatCell(sum.TotalReceived), strconv.Itoa(sum.TotalTransactions)})
			if err := p.table([]string{"platform", "sent", "received", "transactions"}, rows); err != nil {
				return err
			}

			if len(sum.TopCategories) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				rows = rows[:0]
				for _, c := range sum.TopCategories {
					rows = append(rows, []string{c.Category, formatCell(c.Amount), strconv.Itoa(c.Count)})
				}
				return p.table([]string{"category", "amount", "transactions"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().String("start", "", "First day (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Last day (YYYY-MM-DD)")
	return cmd
}

type foodDay struct {
	Date      string            `json:"date"`
	Nutrition food.Nutrition    `json:"nutrition"`
	Water     float64           `json:"water"`
	Expiring  []food.PantryItem `json:"expiring"`
	LowStock  []food.PantryItem `json:"lowStock"`
}

func (cli *CLI) foodReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "food",
		Short: "Nutrition and water for a day, plus pantry alerts",
		Long: `Show the nutrition and water logged on --date (default today), the
pantry items expiring within --days and the items at or below their
low-stock threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			day, err := parseDay(cmd, "date")
			if err != nil {
				return err
			}
			if day.IsZero() {
				day = time.Now()
			}
			days, _ := cmd.Flags().GetInt("days")

			h, err := cli.openDomain(cmd, food.Domain)
			if err != nil {
				return err
			}
			svc, err := food.New(h)
			if err != nil {
				return WrapError("summarize food", err)
			}
			ctx := cmd.Context()
			report := foodDay{Date: day.Format(food.DateLayout)}
			if report.Nutrition, err = svc.DailyNutrition(ctx, report.Date); err != nil {
				return WrapError("summarize food", err)
			}
			if report.Water, err = svc.DailyWater(ctx, report.Date); err != nil {
				return WrapError("summarize food", err)
			}
			if report.Expiring, err = svc.ExpiringItems(ctx, day, days); err != nil {
				return WrapError("summarize food", err)
			}
			if report.LowStock, err = svc.LowStockItems(ctx); err != nil {
				return WrapError("summarize food", err)
			}
			if done, err := p.structured(report); done {
				return err
			}

			n := report.Nutrition
			rows := [][]string{
				{"calories", formatCell(n.Calories)},
				{"protein", formatCell(n.Protein)},
				{"carbs", formatCell(n.Carbs)},
				{"fat", formatCell(n.Fat)},
				{"water", formatCell(report.Water)},
			}
			if err := p.table([]string{report.Date, "total"}, rows); err != nil {
				return err
			}
			var alerts [][]string
			for _, item := range report.Expiring {
				alerts = append(alerts, []string{item.Name, "expires " + item.ExpirationDate})
			}
			for _, item := range report.LowStock {
				alerts = append(alerts, []string{item.Name, fmt.Sprintf("low stock (%s left)", formatCell(item.Quantity))})
			}
			if len(alerts) == 0 {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return p.table([]string{"pantry item", "alert"}, alerts)
		},
	}
	cmd.Flags().String("date", "", "Day to report (YYYY-MM-DD, default today)")
	cmd.Flags().Int("days", 3, "Expiry window in days")
	return cmd
}

func (cli *CLI) exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every payment transaction as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			as, _ := cmd.Flags().GetString("as")
			h, err := cli.openDomain(cmd, payments.Domain)
			if err != nil {
				return err
			}
			svc, err := payments.New(h)
			if err != nil {
				return WrapError("export transactions", err)
			}
			if err := svc.ExportTransactions(cmd.Context(), cmd.OutOrStdout(), as); err != nil {
				return WrapError("export transactions", err, "Use --as csv or --as json")
			}
			return nil
		},
	}
	cmd.Flags().String("as", payments.FormatCSV, "Export format (csv|json)")
	return cmd
}

func (cli *CLI) linkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <platform> <recipient>",
		Short: "Build a payment link for cashapp, venmo or paypal",
		Long: `Build a web payment link, or the app deep link with --deep.

Examples:
  lifestore link venmo sam --amount 12.50 --note "pizza night"
  lifestore link paypal ana --amount 20 --charge`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := payments.LinkOptions{Recipient: args[1]}
			opts.Amount, _ = cmd.Flags().GetFloat64("amount")
			opts.Currency, _ = cmd.Flags().GetString("currency")
			opts.Note, _ = cmd.Flags().GetString("note")
			opts.Charge, _ = cmd.Flags().GetBool("charge")

			platform := payments.Platform(args[0])
			link, err := payments.PaymentLink(platform, opts)
			if err != nil {
				return &CLIError{
					Operation:   "build payment link",
					Cause:       err.Error(),
					Suggestions: []string{"Use cashapp, venmo or paypal"},
					Underlying:  err,
				}
			}
			if deep, _ := cmd.Flags().GetBool("deep"); deep {
				link = payments.DeepLink(platform, link)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
			return err
		},
	}
	cmd.Flags().Float64("amount", 0, "Amount to pay or request")
	cmd.Flags().String("currency", "", "Currency code (default USD)")
	cmd.Flags().String("note", "", "Note attached to the payment")
	cmd.Flags().Bool("charge", false, "Request money instead of sending it")
	cmd.Flags().Bool("deep", false, "Print the app deep link")
	return cmd
}
