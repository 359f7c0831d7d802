// Package main wires the CLI surface (spec.md §6.2) atop cmn's Global
// Config Owner: flags are parsed once at startup into a cmn.Config, which is
// then swapped into cmn.GCO for every other package to read. Grounded on the
// teacher's cmd/cli flag-map convention (cmd/cli/commands/copy_hdlr.go).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/knsymex/knsymex/cmn"
	"github.com/knsymex/knsymex/knlog"
)

// Exit codes per spec.md §6.2.
const (
	exitOK      = 0
	exitBadArgs = 1
	exitRuntime = 2
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "knsymex"
	app.Usage = "distributed symbolic execution driver"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "state-mapping", Value: string(cmn.MappingSuper),
			Usage: "cob|cow|cow2|super|super-bfc|super-sc"},
		cli.BoolFlag{Name: "phony-packets"},
		cli.StringFlag{Name: "distributed-terminate", Value: string(cmn.TerminateUniform),
			Usage: "single|uniform|force-all"},
		cli.StringFlag{Name: "constraints-transmission", Value: string(cmn.ConstraintsClosure),
			Usage: "closure|force-all"},
		cli.BoolFlag{Name: "use-lockstep-search"},
		cli.BoolFlag{Name: "use-cooja-search"},
		cli.BoolFlag{Name: "use-lockstep-cluster-search"},
		cli.BoolFlag{Name: "use-cooja-cluster-search"},
		cli.IntFlag{Name: "lockstep-increment", Value: 1},
		cli.IntFlag{Name: "cluster-instructions", Value: 10000},
		cli.BoolFlag{Name: "fifo-strategy"},
		cli.BoolFlag{Name: "random-strategy"},
		cli.BoolFlag{Name: "add-packet-symbols"},
	}
	app.Action = runAction
	return app
}

func runAction(c *cli.Context) error {
	cfg, err := configFromFlags(c)
	if err != nil {
		return err
	}
	cmn.GCO.Put(cfg)
	knlog.Infof("knsymex: configured state-mapping=%s scheduler=%s", cfg.StateMapping, cfg.Scheduler)
	return nil
}

// configFromFlags builds a cmn.Config from the parsed urfave/cli flags,
// validating the mutually-exclusive searcher pairs and enum-valued flags per
// spec.md §6.2's "Behaviour constraint".
func configFromFlags(c *cli.Context) (*cmn.Config, error) {
	cfg := cmn.DefaultConfig()

	mapping := cmn.StateMapping(c.String("state-mapping"))
	switch mapping {
	case cmn.MappingCoB, cmn.MappingCoW, cmn.MappingCoW2, cmn.MappingSuper, cmn.MappingSuperBC, cmn.MappingSuperSC:
		cfg.StateMapping = mapping
	default:
		return nil, cmn.NewErrCliBadValue("state-mapping", string(mapping))
	}

	term := cmn.DistributedTerminate(c.String("distributed-terminate"))
	switch term {
	case cmn.TerminateSingle, cmn.TerminateUniform, cmn.TerminateForceAll:
		cfg.DistributedTerminate = term
	default:
		return nil, cmn.NewErrCliBadValue("distributed-terminate", string(term))
	}

	constraints := cmn.ConstraintsTransmission(c.String("constraints-transmission"))
	switch constraints {
	case cmn.ConstraintsClosure, cmn.ConstraintsForceAll:
		cfg.ConstraintsTransmission = constraints
	default:
		return nil, cmn.NewErrCliBadValue("constraints-transmission", string(constraints))
	}

	cfg.PhonyPackets = c.Bool("phony-packets")
	cfg.AddPacketSymbols = c.Bool("add-packet-symbols")
	cfg.LockstepIncrement = c.Int("lockstep-increment")
	cfg.ClusterInstructions = c.Int("cluster-instructions")

	lockstep := c.Bool("use-lockstep-search")
	cooja := c.Bool("use-cooja-search")
	lockstepCluster := c.Bool("use-lockstep-cluster-search")
	coojaCluster := c.Bool("use-cooja-cluster-search")

	searcherFlags := map[string]bool{
		"use-lockstep-search":         lockstep,
		"use-cooja-search":            cooja,
		"use-lockstep-cluster-search": lockstepCluster,
		"use-cooja-cluster-search":    coojaCluster,
	}
	var chosen []string
	for name, set := range searcherFlags {
		if set {
			chosen = append(chosen, name)
		}
	}
	if len(chosen) > 1 {
		return nil, cmn.NewErrCliConflict(chosen[0], chosen[1])
	}
	switch {
	case lockstep:
		cfg.Scheduler = cmn.SchedulerLockStep
	case cooja:
		cfg.Scheduler = cmn.SchedulerCooja
	case lockstepCluster:
		cfg.Scheduler = cmn.SchedulerLockStepCluster
	case coojaCluster:
		cfg.Scheduler = cmn.SchedulerCoojaCluster
	}

	fifo := c.Bool("fifo-strategy")
	random := c.Bool("random-strategy")
	if fifo && random {
		return nil, cmn.NewErrCliConflict("fifo-strategy", "random-strategy")
	}
	switch {
	case fifo:
		cfg.ClusterStrategy = cmn.StrategyFIFO
	case random:
		cfg.ClusterStrategy = cmn.StrategyRandom
	}

	return cfg, nil
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if kind, ok := cmn.KindOf(err); ok && (kind == cmn.KindCliConflict || kind == cmn.KindCliBadValue) {
			os.Exit(exitBadArgs)
		}
		os.Exit(exitRuntime)
	}
	os.Exit(exitOK)
}
