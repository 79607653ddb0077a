// Package ordering is the command line front end of a participant: it runs a
// session, manages participant keys and group files, and reads back the
// journal of finalized items.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/backup"
	"github.com/drand/ordering/internal/core"
	"github.com/drand/ordering/internal/metrics"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X github.com/drand/ordering/internal/ordering-cli.version=`git describe --tags`"
var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

var SetVersionPrinter sync.Once

var indexFlag = &cli.IntFlag{
	Name:    "index",
	Aliases: []string{"i"},
	Usage:   "Index of this participant, between 0 and the number of participants. Required.",
	EnvVars: []string{"ORDERING_INDEX"},
}

var nodesFlag = &cli.IntFlag{
	Name:    "nodes",
	Aliases: []string{"c"},
	Value:   core.DefaultNodes,
	Usage:   "Number of participants. Ignored when a group file is given.",
	EnvVars: []string{"ORDERING_NODES"},
}

var dataFlag = &cli.StringFlag{
	Name:    "data",
	Aliases: []string{"d"},
	Usage:   "Items to order, every character being one item.",
	EnvVars: []string{"ORDERING_DATA"},
}

var expectedFlag = &cli.IntFlag{
	Name: "expected",
	Usage: "Number of finalized items expected from every participant before shutting down. " +
		"When unset, every participant is assumed to propose as many items as this one.",
	EnvVars: []string{"ORDERING_EXPECTED"},
}

var folderFlag = &cli.StringFlag{
	Name:    "folder",
	Value:   backup.DefaultFolder,
	Usage:   "Folder holding the recovery log and the journal of finalized items.",
	EnvVars: []string{"ORDERING_FOLDER"},
}

var graceFlag = &cli.DurationFlag{
	Name:    "grace",
	Value:   core.DefaultGrace,
	Usage:   "How long to keep running once every participant reached the target, so that peers can catch up.",
	EnvVars: []string{"ORDERING_GRACE"},
}

var basePortFlag = &cli.IntFlag{
	Name:    "base-port",
	Value:   key.DefaultBasePort,
	Usage:   "Without a group file, participant i listens on 127.0.0.1 at this port plus i.",
	EnvVars: []string{"ORDERING_BASE_PORT"},
}

var groupFlag = &cli.StringFlag{
	Name:    "group",
	Usage:   "Group file (TOML) listing the index, address and optional public key of every participant.",
	EnvVars: []string{"ORDERING_GROUP"},
}

var keyFlag = &cli.StringFlag{
	Name: "key",
	Usage: "Folder holding this participant's key pair, as written by the keygen command. " +
		"Messages are then signed with BLS and the group file must carry every public key.",
	EnvVars: []string{"ORDERING_KEY"},
}

var ledgerFlag = &cli.BoolFlag{
	Name:    "ledger",
	Value:   true,
	Usage:   "Journal every finalized item in the folder.",
	EnvVars: []string{"ORDERING_LEDGER"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics server at the specified (host:)port.",
	EnvVars: []string{"ORDERING_METRICS"},
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"ORDERING_VERBOSE"},
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Usage:   "Set the output as json format",
	EnvVars: []string{"ORDERING_JSON"},
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "Where to write the generated files.",
}

var addressFlag = &cli.StringFlag{
	Name:  "address",
	Usage: "Address other participants reach this one at. Defaults to 127.0.0.1 at base-port plus index.",
}

var runFlags = []cli.Flag{
	indexFlag, nodesFlag, dataFlag, expectedFlag, folderFlag, graceFlag,
	basePortFlag, groupFlag, keyFlag, ledgerFlag, metricsFlag, verboseFlag, jsonFlag,
}

var appCommands = []*cli.Command{
	{
		Name:  "run",
		Usage: "Join a session, propose the given items and print the finalized ones.",
		Flags: runFlags,
		Action: func(c *cli.Context) error {
			l := log.New(nil, logLevel(c), logJSON(c)).Named("run")
			return runCmd(c, l)
		},
	},
	{
		Name:  "keygen",
		Usage: "Generate the BLS key pair of a participant (<index>.private.toml, <index>.public.toml).",
		Flags: toArray(indexFlag, outFlag, addressFlag, basePortFlag, verboseFlag, jsonFlag),
		Action: func(c *cli.Context) error {
			l := log.New(nil, logLevel(c), logJSON(c)).Named("keygen")
			return keygenCmd(c, l)
		},
	},
	{
		Name:      "group",
		Usage:     "Assemble a group file from the public identities of every participant.",
		ArgsUsage: "<index.public.toml>... the public identity files of the participants",
		Flags:     toArray(outFlag, verboseFlag, jsonFlag),
		Action: func(c *cli.Context) error {
			l := log.New(nil, logLevel(c), logJSON(c)).Named("group")
			return groupCmd(c, l)
		},
	},
	{
		Name:  "ledger",
		Usage: "Print the items finalized by a participant, oldest first, one JSON object per line.",
		Flags: toArray(indexFlag, folderFlag, verboseFlag, jsonFlag),
		Action: func(c *cli.Context) error {
			l := log.New(nil, logLevel(c), logJSON(c)).Named("ledger")
			return ledgerCmd(c, l)
		},
	},
}

// CLI returns the ordering app. Running it without a command runs a session.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "ordering"

	SetVersionPrinter.Do(func() {
		cli.VersionPrinter = func(c *cli.Context) {
			fmt.Fprintf(c.App.Writer, "ordering %s (date %v, commit %v)\n", version, buildDate, gitCommit)
		}
	})

	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version
	app.Usage = "participant of a byzantine fault tolerant ordering session"

	// we need to copy the underlying commands to avoid races, cli sadly doesn't support concurrent executions well
	appComm := make([]*cli.Command, len(appCommands))
	for i, p := range appCommands {
		v := *p
		appComm[i] = &v
	}
	app.Commands = appComm
	app.Flags = runFlags
	app.Action = appCommands[0].Action
	return app
}

func runCmd(c *cli.Context, l log.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := contextToConfig(c, l)
	if err != nil {
		return err
	}
	session, err := core.NewSession(ctx, conf)
	if err != nil {
		return err
	}

	if c.IsSet(metricsFlag.Name) {
		srv, err := metrics.Start(l.Named("metrics"), c.String(metricsFlag.Name), session.StatusHandler(), true)
		if err != nil {
			l.Errorw("could not start the metrics server", "err", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
		}
	}

	err = session.Run(ctx)
	if errors.Is(err, core.ErrFinalizationClosed) {
		l.Fatalw("finalization stream closed early, aborting", "tally", session.Tally(), "err", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "session %s done, finalized items per participant: %v\n", session.ID(), session.Tally())
	return nil
}

func contextToConfig(c *cli.Context, l log.Logger) (*core.Config, error) {
	index, err := getIndex(c)
	if err != nil {
		return nil, err
	}
	if n := c.Int(nodesFlag.Name); n < 1 && !c.IsSet(groupFlag.Name) {
		return nil, fmt.Errorf("invalid number of participants %d, see --%s", n, nodesFlag.Name)
	}
	opts := []core.ConfigOption{
		core.WithLogger(l),
		core.WithIndex(index),
		core.WithNodes(c.Int(nodesFlag.Name)),
		core.WithStringItems(c.String(dataFlag.Name)),
		core.WithExpected(c.Int(expectedFlag.Name)),
		core.WithFolder(c.String(folderFlag.Name)),
		core.WithGrace(c.Duration(graceFlag.Name)),
		core.WithBasePort(c.Int(basePortFlag.Name)),
		core.WithLedger(c.Bool(ledgerFlag.Name)),
	}

	if c.IsSet(groupFlag.Name) {
		group, err := key.LoadGroup(c.String(groupFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("loading group file: %w", err)
		}
		opts = append(opts, core.WithGroup(group))
	}
	if c.IsSet(keyFlag.Name) {
		if !c.IsSet(groupFlag.Name) {
			return nil, fmt.Errorf("--%s needs a group file carrying the public keys, see --%s", keyFlag.Name, groupFlag.Name)
		}
		pair, err := key.LoadKeyPair(c.String(keyFlag.Name), index)
		if err != nil {
			return nil, fmt.Errorf("loading key pair: %w", err)
		}
		opts = append(opts, core.WithKeyPair(pair))
	}
	return core.NewConfig(opts...), nil
}

func getIndex(c *cli.Context) (key.Index, error) {
	if !c.IsSet(indexFlag.Name) {
		return 0, fmt.Errorf("missing participant index, see --%s", indexFlag.Name)
	}
	i := c.Int(indexFlag.Name)
	if i < 0 {
		return 0, fmt.Errorf("invalid participant index %d", i)
	}
	return key.Index(i), nil
}

func logLevel(c *cli.Context) int {
	if c.Bool(verboseFlag.Name) {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func logJSON(c *cli.Context) bool {
	return c.Bool(jsonFlag.Name)
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}
