package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

type tableOptions struct {
	columns []string
	lower   string
	upper   string
	dense   bool
}

func newTableCommand(root *rootOptions) *cobra.Command {
	opts := &tableOptions{}

	cmd := &cobra.Command{
		Use:   "table --column OID [--column OID]...",
		Short: "Retrieve the rows of an SNMP table",
		Long: `Retrieve the given columns of an SNMP table and print one line per row.
Cells the agent did not return are shown as "-".`,
		Example: `  snmpbulk table -t 192.0.2.1 -C 1.3.6.1.2.1.2.2.1.2 -C 1.3.6.1.2.1.2.2.1.10
  snmpbulk table -t 192.0.2.1 -C 1.3.6.1.2.1.2.2.1.2 --lower 10 --upper 20 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTable(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.columns, "column", "C", nil, "Column OID to retrieve (repeatable)")
	flags.StringVar(&opts.lower, "lower", "", "Only rows with an index greater than this OID")
	flags.StringVar(&opts.upper, "upper", "", "Only rows with an index up to and including this OID")
	flags.BoolVar(&opts.dense, "dense", false, "Use the dense table walker, for tables without holes")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func runTable(cmd *cobra.Command, root *rootOptions, opts *tableOptions) error {
	columns, err := parseOIDs(opts.columns)
	if err != nil {
		return err
	}
	lower, err := parseBound(opts.lower)
	if err != nil {
		return err
	}
	upper, err := parseBound(opts.upper)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, root)
	if err != nil {
		return err
	}
	defer rt.close()

	tables := walk.NewTableUtils(rt.session, nil, rt.walkOptions("table")...)
	rt.onReload(tables.Apply)
	dense := opts.dense || rt.settings.Retrieval.Dense

	return rt.repeat(ctx, func(ctx context.Context) error {
		results, err := rt.collect(ctx, func(ctx context.Context, target *snmp.Target, res *targetResult) error {
			var rows []*walk.TableRow
			var err error
			if dense {
				rows, err = tables.DenseTable(ctx, target, columns, lower, upper)
			} else {
				rows, err = tables.Table(ctx, target, columns, lower, upper)
			}
			res.Rows = newRowRecords(rows)
			return err
		})
		if werr := writeResults(cmd.OutOrStdout(), root.output, results); werr != nil {
			return errors.Join(err, werr)
		}
		return err
	})
}

func parseBound(s string) (snmp.OID, error) {
	if s == "" {
		return nil, nil
	}
	oids, err := parseOIDs([]string{s})
	if err != nil {
		return nil, err
	}
	return oids[0], nil
}
