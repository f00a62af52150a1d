package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stevemurr/rednext/schema"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections, numbered from 1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			names, err := cat.List()
			if err != nil {
				return err
			}
			for i, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name)
			}
			return nil
		},
	}
}

// parseFieldSpecs turns "name:Type" pairs into a schema.
func parseFieldSpecs(specs []string) (schema.Schema, error) {
	s := make(schema.Schema, 0, len(specs))
	for _, spec := range specs {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("field %q: want name:Type", spec)
		}
		t, err := schema.ParseFieldType(typ)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		s = append(s, schema.FieldDescriptor{Name: name, Type: t})
	}
	return s, nil
}

func (a *app) newCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a collection",
		Example: `  rednext new books --field title:Text --field pages:Number --field read:Boolean
  rednext new dentist --field visit:DateTime`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseFieldSpecs(fields)
			if err != nil {
				return err
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			c, err := cat.Create(args[0], s)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", c.Name(), strings.Join(c.Schema().Names(), ", "))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field as name:Type (Text, Number, Boolean, DateTime); repeatable")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (a *app) dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <name>",
		Short: "Delete a collection and all of its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			if err := cat.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return nil
		},
	}
}
