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

func newWalkCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "walk OID [OID]...",
		Short: "Walk one or more MIB subtrees",
		Long: `Walk the subtrees below the given OIDs and print every value found, in
lexicographic order per subtree.`,
		Example: `  snmpbulk walk -t 192.0.2.1 1.3.6.1.2.1.1
  snmpbulk walk -t 192.0.2.1 --snmp-version 1 1.3.6.1.2.1.1 1.3.6.1.2.1.25.1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := parseOIDs(args)
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

			trees := walk.NewTreeUtils(rt.session, nil, rt.walkOptions("tree")...)
			rt.onReload(trees.Apply)

			return rt.repeat(ctx, func(ctx context.Context) error {
				results, err := rt.collect(ctx, func(ctx context.Context, target *snmp.Target, res *targetResult) error {
					events, err := trees.Walk(ctx, target, roots)
					res.Values = newValueRecords(events)
					return err
				})
				if werr := writeResults(cmd.OutOrStdout(), root.output, results); werr != nil {
					return errors.Join(err, werr)
				}
				return err
			})
		},
	}
}
