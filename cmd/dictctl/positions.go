package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/refdata/dictstore/internal/core"
)

func newPositionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pos",
		Short: "Manage dictionary positions",
	}
	cmd.AddCommand(newPosListCmd(a), newPosCreateCmd(a), newPosDeleteCmd(a))
	return cmd
}

func newPosListCmd(a *app) *cobra.Command {
	var (
		asOf     string
		equals   []string
		prefixes []string
	)
	cmd := &cobra.Command{
		Use:   "list <dict-code>",
		Short: "List positions with their effective values",
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
			filters, err := parseFilters(equals, prefixes)
			if err != nil {
				return err
			}

			seq, err := a.svc.ListPositions(cmd.Context(), d.ID, at, filters)
			if err != nil {
				return err
			}
			defs, err := a.svc.Schema(cmd.Context(), d.ID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			header := make([]string, 0, len(defs)+1)
			header = append(header, "POSITION")
			for _, def := range defs {
				header = append(header, def.AltName)
			}
			fmt.Fprintln(w, strings.Join(header, "\t"))

			for seq.Next() {
				row := seq.Row()
				cells := make([]string, 0, len(defs)+1)
				cells = append(cells, row.PositionID.String())
				for _, def := range defs {
					cells = append(cells, formatValue(row.Values[def.AltName]))
				}
				fmt.Fprintln(w, strings.Join(cells, "\t"))
			}
			if err := seq.Err(); err != nil {
				return err
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "effective date YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVar(&equals, "filter", nil, "ATTR=value equality filter, repeatable")
	cmd.Flags().StringArrayVar(&prefixes, "prefix", nil, "ATTR=value prefix filter, repeatable")
	return cmd
}

func newPosCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <dict-code>",
		Short: "Create an empty position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			id, err := a.svc.CreatePosition(cmd.Context(), a.actor, d.ID)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newPosDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <position-id>",
		Short: "Delete a position and all its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			posID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id: %w", err)
			}
			return a.svc.DeletePosition(cmd.Context(), a.actor, posID)
		},
	}
}

func newValueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "value",
		Short: "Read and write attribute values",
	}
	cmd.AddCommand(newValueSetCmd(a), newValueGetCmd(a), newValueHistoryCmd(a))
	return cmd
}

func newValueSetCmd(a *app) *cobra.Command {
	var (
		from    string
		to      string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "set <position-id> <attr> <value>",
		Short: "Set an attribute value for a validity window",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			posID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id: %w", err)
			}
			validFrom, err := asOfFlag(from)
			if err != nil {
				return err
			}
			validTo, err := parseDateFlag(to)
			if err != nil {
				return err
			}
			if replace {
				return a.svc.UpdateValue(cmd.Context(), a.actor, posID, args[1], args[2], validFrom, validTo)
			}
			return a.svc.SetValue(cmd.Context(), a.actor, posID, args[1], args[2], validFrom, validTo)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "window end YYYY-MM-DD (default open)")
	cmd.Flags().BoolVar(&replace, "replace", false, "close the currently effective value instead of failing on overlap")
	return cmd
}

func newValueGetCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "get <position-id>",
		Short: "Show the values effective on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			posID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id: %w", err)
			}
			at, err := asOfFlag(asOf)
			if err != nil {
				return err
			}
			values, err := a.svc.GetEffectiveValues(cmd.Context(), posID, at)
			if err != nil {
				return err
			}
			attrs := make([]string, 0, len(values))
			for attr := range values {
				attrs = append(attrs, attr)
			}
			sort.Strings(attrs)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, attr := range attrs {
				fmt.Fprintf(w, "%s\t%s\n", attr, formatValue(values[attr]))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "effective date YYYY-MM-DD (default today)")
	return cmd
}

func newValueHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <position-id> <attr>",
		Short: "Show the full value lineage of one attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			posID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id: %w", err)
			}
			history, err := a.svc.ValueHistory(cmd.Context(), posID, args[1])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FROM\tTO\tVALUE")
			for _, v := range history {
				to := "open"
				if !v.FinishDate.Equal(core.OpenEnd) {
					to = v.FinishDate.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", v.StartDate.Format("2006-01-02"), to, v.Value)
			}
			return w.Flush()
		},
	}
}

// parseFilters converts repeated ATTR=value flag values into core filters.
func parseFilters(equals, prefixes []string) ([]core.Filter, error) {
	var filters []core.Filter
	add := func(specs []string, op core.FilterOp) error {
		for _, spec := range specs {
			attr, value, ok := strings.Cut(spec, "=")
			if !ok || attr == "" {
				return fmt.Errorf("invalid filter %q, expected ATTR=value", spec)
			}
			filters = append(filters, core.Filter{Attr: attr, Op: op, Value: value})
		}
		return nil
	}
	if err := add(equals, core.FilterEquals); err != nil {
		return nil, err
	}
	if err := add(prefixes, core.FilterPrefix); err != nil {
		return nil, err
	}
	return filters, nil
}

// formatValue renders a decoded attribute value for terminal output.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprint(val)
	}
}
