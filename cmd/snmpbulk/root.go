package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/geekxflood/snmpbulk/config"
	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/metrics"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/transport"
	"github.com/geekxflood/snmpbulk/walk"
)

var version = "dev"

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	targets     []string
	community   string
	snmpVersion string
	timeout     time.Duration
	output      string
	interval    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "snmpbulk",
		Version: version,
		Short:   "Retrieve SNMP tables and subtrees with bulk requests",
		Long: `snmpbulk walks SNMP tables and MIB subtrees on one or more agents using
GETBULK requests (GETNEXT for SNMPv1), reassembling table rows from the
column-interleaved responses.`,
		Example: `  # Retrieve ifDescr and ifOperStatus from two agents
  snmpbulk table -t 192.0.2.1 -t 192.0.2.2 -C 1.3.6.1.2.1.2.2.1.2 -C 1.3.6.1.2.1.2.2.1.8

  # Walk the system group as JSON
  snmpbulk walk -t 192.0.2.1 -o json 1.3.6.1.2.1.1

  # Validate a configuration file
  snmpbulk validate --config snmpbulk.yaml`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (YAML or JSON)")
	flags.StringSliceVarP(&opts.targets, "target", "t", nil, "Agent address, host or host:port (repeatable)")
	flags.StringVar(&opts.community, "community", "", "Community string, overrides the configuration")
	flags.StringVar(&opts.snmpVersion, "snmp-version", "", `SNMP version "1" or "2c", overrides the configuration`)
	flags.DurationVar(&opts.timeout, "timeout", 0, "Request timeout, overrides the configuration")
	flags.StringVarP(&opts.output, "output", "o", formatText, "Output format: text, json or yaml")
	flags.DurationVar(&opts.interval, "interval", 0, "Repeat the retrieval at this interval until interrupted")

	cmd.AddCommand(newTableCommand(opts), newWalkCommand(opts), newValidateCommand(opts))
	return cmd
}

// runtime is everything a retrieval command needs, built from flags and the
// configuration file.
type runtime struct {
	opts     *rootOptions
	manager  *config.Manager
	settings config.Settings
	logger   logging.Logger
	session  transport.Session
	metrics  *metrics.Server
	targets  []*snmp.Target
}

// maxConcurrentTargets bounds the walks a round runs at once.
const maxConcurrentTargets = 16

func setup(ctx context.Context, opts *rootOptions) (*runtime, error) {
	if err := checkFormat(opts.output); err != nil {
		return nil, err
	}

	manager, err := config.NewManager(config.Options{
		ConfigPath:       opts.configPath,
		EnableHotReload:  opts.configPath != "" && opts.interval > 0,
		HotReloadContext: ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rt := &runtime{opts: opts, manager: manager, settings: manager.Settings(), logger: logging.Discard()}

	if err := logging.Init(rt.settings.Logging.Config()); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	rt.logger = logging.NewComponentLogger("cli", "snmpbulk")

	if rt.targets, err = rt.buildTargets(); err != nil {
		rt.close()
		return nil, err
	}

	if rt.settings.Metrics.Enabled {
		if rt.metrics, err = metrics.NewServer(metrics.Config{
			ListenAddress: rt.settings.Metrics.ListenAddress,
			Namespace:     rt.settings.Metrics.Namespace,
		}, nil); err != nil {
			rt.close()
			return nil, err
		}
		go func() {
			if err := rt.metrics.Start(); err != nil {
				rt.logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	if rt.session, err = transport.Open(ctx, rt.settings.Transport); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to open %s session: %w", rt.settings.Transport.Kind, err)
	}
	return rt, nil
}

func (rt *runtime) buildTargets() ([]*snmp.Target, error) {
	base := rt.settings.Target
	if rt.opts.community != "" {
		base.Community = rt.opts.community
	}
	if rt.opts.snmpVersion != "" {
		base.Version = rt.opts.snmpVersion
	}
	if rt.opts.timeout > 0 {
		base.Timeout = rt.opts.timeout.String()
	}

	addresses := rt.opts.targets
	if len(addresses) == 0 {
		if base.Address != "" {
			addresses = append(addresses, base.Address)
		}
		addresses = append(addresses, rt.settings.Targets...)
	}
	if len(addresses) == 0 {
		return nil, errors.New("no targets: pass --target or set target.address in the configuration")
	}

	targets := make([]*snmp.Target, 0, len(addresses))
	for _, address := range addresses {
		target, err := base.Build(address)
		if err != nil {
			return nil, fmt.Errorf("invalid target %s: %w", address, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// walkOptions returns the facade options for the current settings.
func (rt *runtime) walkOptions(component string) []walk.Option {
	opts := append(rt.settings.Retrieval.Options(),
		walk.WithLogger(logging.NewComponentLogger(component, "walker")))
	if rt.metrics != nil {
		opts = append(opts, walk.WithObserver(rt.metrics.Walks()))
	}
	return opts
}

// onReload applies a reloaded retrieval section through apply.
func (rt *runtime) onReload(apply func(...walk.Option)) {
	rt.manager.OnChange(func(err error) {
		if err != nil {
			rt.logger.Warn("Configuration reload rejected, keeping previous settings", "error", err)
			return
		}
		retrieval := rt.manager.Settings().Retrieval
		apply(retrieval.Options()...)
		rt.logger.Info("Retrieval settings reloaded",
			"max_columns_per_pdu", retrieval.MaxColumnsPerPDU,
			"max_rows_per_pdu", retrieval.MaxRowsPerPDU,
			"max_repetitions", retrieval.MaxRepetitions)
	})
}

// repeat runs round once, or every interval until ctx is done. When
// repeating, failed rounds are logged and polling continues.
func (rt *runtime) repeat(ctx context.Context, round func(context.Context) error) error {
	err := round(ctx)
	if rt.opts.interval <= 0 {
		return err
	}
	if err != nil {
		rt.logger.Error("Retrieval round failed", "error", err)
	}

	ticker := time.NewTicker(rt.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := round(ctx); err != nil {
				rt.logger.Error("Retrieval round failed", "error", err)
			}
		}
	}
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.session != nil {
		if err := rt.session.Close(ctx); err != nil {
			rt.logger.Warn("Failed to close session", "error", err)
		}
	}
	if rt.metrics != nil {
		if err := rt.metrics.Stop(ctx); err != nil {
			rt.logger.Warn("Failed to stop metrics server", "error", err)
		}
	}
	_ = rt.manager.Close()
	if err := logging.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log output: %v\n", err)
	}
}

// collect runs fetch against every target concurrently and returns one result
// per target, in target order. Per target failures are recorded in the result
// and joined into the returned error.
func (rt *runtime) collect(ctx context.Context, fetch func(context.Context, *snmp.Target, *targetResult) error) ([]targetResult, error) {
	results := make([]targetResult, len(rt.targets))
	failures := make([]error, len(rt.targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTargets)
	for i, target := range rt.targets {
		g.Go(func() error {
			results[i].Target = target.Address
			if err := fetch(gctx, target, &results[i]); err != nil {
				results[i].Error = err.Error()
				failures[i] = fmt.Errorf("%s: %w", target.Address, err)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(failures...)
}

func parseOIDs(args []string) ([]snmp.OID, error) {
	oids := make([]snmp.OID, 0, len(args))
	for _, arg := range args {
		oid, err := snmp.ParseOID(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid OID %q: %w", arg, err)
		}
		oids = append(oids, oid)
	}
	return oids, nil
}
