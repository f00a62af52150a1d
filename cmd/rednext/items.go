package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevemurr/rednext/schema"
	"github.com/stevemurr/rednext/store"
)

// formatRecord renders one record per line:
//
//	3 [x] title="Dune" pages=412 done=2024-07-01T01:20:00
func formatRecord(r schema.Record) string {
	var b strings.Builder
	mark := " "
	if r.Done() {
		mark = "x"
	}
	fmt.Fprintf(&b, "%d [%s]", r.ID, mark)
	for _, f := range r.Fields {
		v := f.Value.String()
		if f.Value.Type() == schema.Text {
			v = strconv.Quote(v)
		}
		fmt.Fprintf(&b, " %s=%s", f.Name, v)
	}
	if r.CompletedAt != nil {
		fmt.Fprintf(&b, " done=%s", schema.FormatTime(*r.CompletedAt))
	}
	return b.String()
}

func printRecords(w io.Writer, rs []schema.Record) {
	for _, r := range rs {
		fmt.Fprintln(w, formatRecord(r))
	}
}

// parseAssignments converts name=value arguments into fields typed by s.
func parseAssignments(s schema.Schema, args []string) ([]schema.Field, error) {
	fields := make([]schema.Field, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q: want field=value", arg)
		}
		i := s.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("%w: unknown field %q", schema.ErrInvalidFields, name)
		}
		v, err := schema.ParseValue(s[i].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, schema.Field{Name: name, Value: v})
	}
	return fields, nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

// withItem opens the collection in args[0] and parses the id in args[1].
func (a *app) withItem(fn func(cmd *cobra.Command, c store.Collection, id uint64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		c, err := a.collection(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, id)
	}
}

func (a *app) itemsCmd() *cobra.Command {
	var done, undone bool
	cmd := &cobra.Command{
		Use:   "items <collection>",
		Short: "List the records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.collection(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			var rs []schema.Record
			switch {
			case done:
				rs, err = c.ListDone()
			case undone:
				rs, err = c.ListUndone()
			default:
				rs, err = c.ListItems()
			}
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), rs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&done, "done", false, "only completed records, oldest completion first")
	cmd.Flags().BoolVar(&undone, "undone", false, "only pending records")
	cmd.MarkFlagsMutuallyExclusive("done", "undone")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "add <collection> <field=value>...",
		Short:   "Insert a record",
		Example: `  rednext add books title="Dune" pages=412 read=no`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.collection(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			fields, err := parseAssignments(c.Schema(), args[1:])
			if err != nil {
				return err
			}
			id, err := c.Insert(fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: a.withItem(func(cmd *cobra.Command, c store.Collection, id uint64) error {
			r, err := c.Get(id)
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("%s has no item %d", c.Name(), id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatRecord(*r))
			return nil
		}),
	}
}

func (a *app) randomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "random <collection>",
		Short: "Pick a pending record at random",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.collection(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			r, err := c.GetRandom()
			if err != nil {
				return err
			}
			if r == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing left to do")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatRecord(*r))
			return nil
		},
	}
}

func (a *app) doneCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "done <collection> <id>",
		Short: "Mark a record as completed",
		Args:  cobra.ExactArgs(2),
		RunE: a.withItem(func(cmd *cobra.Command, c store.Collection, id uint64) error {
			when := time.Now()
			if at != "" {
				t, err := schema.ParseTime(at)
				if err != nil {
					return err
				}
				when = t
			}
			return c.Done(id, when)
		}),
	}
	cmd.Flags().StringVar(&at, "at", "", "completion time as 2006-01-02T15:04:05 (default now)")
	return cmd
}

func (a *app) undoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undone <collection> <id>",
		Short: "Mark a record as pending again",
		Args:  cobra.ExactArgs(2),
		RunE: a.withItem(func(cmd *cobra.Command, c store.Collection, id uint64) error {
			return c.Undone(id)
		}),
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: a.withItem(func(cmd *cobra.Command, c store.Collection, id uint64) error {
			return c.Delete(id)
		}),
	}
}

func (a *app) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <collection> <text>",
		Short: "Find records whose text fields contain text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.collection(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			rs, err := c.Find(args[1])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), rs)
			return nil
		},
	}
}
