package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/refdata/dictstore/internal/core"
	"github.com/refdata/dictstore/internal/logging"
)

func newImportCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "import <dict-code> <file.csv>",
		Short: "Import a CSV file into a dictionary",
		Long: `Import reads a CSV file whose header names attributes by their alt
names, matches rows to existing positions via the dictionary's match key,
and creates or updates positions row by row. A failed row never aborts the
rest of the file; the per-row outcome is reported at the end.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			at, err := asOfFlag(asOf)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			logger := logging.WithFields(cmd.Context(), "dictionary", d.Code, "file", args[1])
			logger.Info("import started", "size_bytes", len(data))

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Import.Timeout)
			defer cancel()

			report, err := a.svc.Import(ctx, core.IdentityFromContext(ctx), d.ID, data, at)
			if err != nil {
				return err
			}

			for _, row := range report.Rows {
				if row.Status != core.RowFailed {
					continue
				}
				fmt.Fprintf(os.Stderr, "row %d: %v\n", row.Row, row.Error)
			}
			fmt.Printf("created %d, updated %d, unchanged %d, failed %d\n",
				report.Created, report.Updated, report.Unchanged, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d row(s) failed", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "effective date for new values YYYY-MM-DD (default today)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		asOf   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <dict-code>",
		Short: "Export a dictionary's effective values as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			at, err := asOfFlag(asOf)
			if err != nil {
				return err
			}
			data, err := a.svc.Export(cmd.Context(), d.ID, at)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "effective date YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		dictCode string
		action   string
		userID   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail (security administrators only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := core.AuditQuery{
				Action: core.AuditAction(action),
				UserID: userID,
				Limit:  limit,
			}
			if dictCode != "" {
				d, err := a.dictionaryByCode(cmd.Context(), dictCode)
				if err != nil {
					return err
				}
				q.DictionaryID = d.ID
			}
			entries, err := a.svc.AuditLog(cmd.Context(), a.actor, q)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tUSER\tATTRIBUTE\tOLD\tNEW\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.UserID,
					e.Attribute, e.OldValue, e.NewValue, e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dictCode, "dict", "", "filter by dictionary code")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&userID, "user", "", "filter by acting user")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")
	return cmd
}
