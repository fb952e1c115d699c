package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/refdata/dictstore/internal/core"
)

func newDictCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage dictionaries",
	}
	cmd.AddCommand(newDictListCmd(a), newDictCreateCmd(a), newDictShowCmd(a),
		newDictEditCmd(a), newDictRetireCmd(a))
	return cmd
}

func newDictListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all dictionaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			dicts, err := a.svc.ListDictionaries(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tSTATUS\tVALID FROM\tVALID TO")
			for _, d := range dicts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					d.Code, d.Name, statusName(d.Status),
					d.StartDate.Format("2006-01-02"), finishLabel(d))
			}
			return w.Flush()
		},
	}
}

func newDictCreateCmd(a *app) *cobra.Command {
	var (
		name        string
		description string
		nameEng     string
		org         string
		classifier  string
		matchKey    string
		local       bool
		start       string
		finish      string
	)
	cmd := &cobra.Command{
		Use:   "create <code>",
		Short: "Create a dictionary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag(start)
			if err != nil {
				return err
			}
			finishDate, err := parseDateFlag(finish)
			if err != nil {
				return err
			}
			typ := core.TypeClassifier
			if local {
				typ = core.TypeLocal
			}
			id, err := a.svc.CreateDictionary(cmd.Context(), a.actor, core.Dictionary{
				Code:         args[0],
				Name:         name,
				Description:  description,
				NameEng:      nameEng,
				Organization: org,
				Classifier:   classifier,
				Type:         typ,
				StartDate:    startDate,
				FinishDate:   finishDate,
				MatchKey:     matchKey,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&nameEng, "name-eng", "", "English display name")
	cmd.Flags().StringVar(&org, "organization", "", "responsible organization")
	cmd.Flags().StringVar(&classifier, "classifier", "", "source classifier code")
	cmd.Flags().StringVar(&matchKey, "match-key", "", "attribute used to match import rows (default CODE)")
	cmd.Flags().BoolVar(&local, "local", false, "create a locally managed dictionary")
	cmd.Flags().StringVar(&start, "start", "", "validity start date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&finish, "finish", "", "validity end date YYYY-MM-DD (default open)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newDictShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show one dictionary with its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Code:         %s\n", d.Code)
			fmt.Printf("Name:         %s\n", d.Name)
			if d.NameEng != "" {
				fmt.Printf("Name (eng):   %s\n", d.NameEng)
			}
			if d.Description != "" {
				fmt.Printf("Description:  %s\n", d.Description)
			}
			if d.Organization != "" {
				fmt.Printf("Organization: %s\n", d.Organization)
			}
			fmt.Printf("Status:       %s\n", statusName(d.Status))
			fmt.Printf("Valid:        %s .. %s\n", d.StartDate.Format("2006-01-02"), finishLabel(*d))
			fmt.Printf("Match key:    %s\n", d.MatchKey)

			defs, err := a.svc.Schema(cmd.Context(), d.ID)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				return nil
			}
			fmt.Println("\nAttributes:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALT NAME\tNAME\tTYPE\tREQUIRED\tCAPACITY")
			for _, def := range defs {
				capacity := ""
				if def.Capacity > 0 {
					capacity = fmt.Sprint(def.Capacity)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
					def.AltName, def.Name, def.Type, def.Required, capacity)
			}
			return w.Flush()
		},
	}
}

func newDictEditCmd(a *app) *cobra.Command {
	var (
		name        string
		description string
		matchKey    string
		start       string
		finish      string
	)
	cmd := &cobra.Command{
		Use:   "edit <code>",
		Short: "Edit dictionary metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var patch core.DictionaryPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("match-key") {
				patch.MatchKey = &matchKey
			}
			if cmd.Flags().Changed("start") {
				t, err := parseDateFlag(start)
				if err != nil {
					return err
				}
				patch.StartDate = &t
			}
			if cmd.Flags().Changed("finish") {
				t, err := parseDateFlag(finish)
				if err != nil {
					return err
				}
				patch.FinishDate = &t
			}
			return a.svc.EditDictionary(cmd.Context(), a.actor, d.ID, patch)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&matchKey, "match-key", "", "attribute used to match import rows")
	cmd.Flags().StringVar(&start, "start", "", "validity start date YYYY-MM-DD")
	cmd.Flags().StringVar(&finish, "finish", "", "validity end date YYYY-MM-DD")
	return cmd
}

func newDictRetireCmd(a *app) *cobra.Command {
	var finish string
	cmd := &cobra.Command{
		Use:   "retire <code>",
		Short: "Retire a dictionary, closing its validity window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			finishDate, err := asOfFlag(finish)
			if err != nil {
				return err
			}
			return a.svc.RetireDictionary(cmd.Context(), a.actor, d.ID, finishDate)
		},
	}
	cmd.Flags().StringVar(&finish, "finish", "", "last valid date YYYY-MM-DD (default today)")
	return cmd
}

func newAttrCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Manage dictionary attribute schemas",
	}
	cmd.AddCommand(newAttrAddCmd(a))
	return cmd
}

func newAttrAddCmd(a *app) *cobra.Command {
	var (
		name     string
		typeName string
		required bool
		capacity int
		start    string
		finish   string
	)
	cmd := &cobra.Command{
		Use:   "add <dict-code> <alt-name>",
		Short: "Add an attribute to a dictionary schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dictionaryByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attrType, ok := core.ParseAttrType(typeName)
			if !ok {
				return fmt.Errorf("unknown attribute type %q", typeName)
			}
			startDate, err := parseDateFlag(start)
			if err != nil {
				return err
			}
			finishDate, err := parseDateFlag(finish)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[1]
			}
			id, err := a.svc.CreateAttribute(cmd.Context(), a.actor, core.AttributeDefinition{
				DictionaryID: d.ID,
				Name:         name,
				AltName:      args[1],
				Type:         attrType,
				Required:     required,
				Capacity:     capacity,
				StartDate:    startDate,
				FinishDate:   finishDate,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default: alt name)")
	cmd.Flags().StringVar(&typeName, "type", "string", "string, number, date, boolean or reference")
	cmd.Flags().BoolVar(&required, "required", false, "value must be present on import")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "max characters for string values (0 = unlimited)")
	cmd.Flags().StringVar(&start, "start", "", "attribute validity start YYYY-MM-DD (default: dictionary start)")
	cmd.Flags().StringVar(&finish, "finish", "", "attribute validity end YYYY-MM-DD (default: dictionary end)")
	return cmd
}

func newOwnerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage dictionary ownership",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "assign <dict-code> <user-id>",
			Short: "Grant a user write access to a dictionary",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.dictionaryByCode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.svc.AssignOwner(cmd.Context(), a.actor, d.ID, args[1])
			},
		},
		&cobra.Command{
			Use:   "list <dict-code>",
			Short: "List the owners of a dictionary",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.dictionaryByCode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				owners, err := a.svc.Owners(cmd.Context(), d.ID)
				if err != nil {
					return err
				}
				for _, o := range owners {
					fmt.Println(o.UserID)
				}
				return nil
			},
		},
	)
	return cmd
}

func statusName(s core.DictionaryStatus) string {
	if s == core.StatusActive {
		return "active"
	}
	return "retired"
}

func finishLabel(d core.Dictionary) string {
	if d.FinishDate.Equal(core.OpenEnd) {
		return "open"
	}
	return d.FinishDate.Format("2006-01-02")
}
