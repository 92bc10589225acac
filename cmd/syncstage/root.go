package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ysasiwat/syncstage/pkg/syncstage/config"
	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
	"github.com/ysasiwat/syncstage/pkg/syncstage/output"
)

// app carries the state of one invocation: the viper instance every flag
// is bound to and the configuration loaded from it.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logging.Logger

	stdout io.Writer
	stderr io.Writer

	bindings []binding
}

// binding ties a flag of one flag set to a config key.
type binding struct {
	fs   *pflag.FlagSet
	name string
	key  string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New(), log: logging.Get("cli")}

	cmd := &cobra.Command{
		Use:   "syncstage",
		Short: "Verify, dedupe, rename and organize file trees before syncing them",
		Long: `syncstage prepares local file trees for cloud sync.

It writes and checks integrity manifests, finds duplicate files, and plans
renames, foldering and cleanups. Every change is planned first and shown
as a dry run; pass --apply to carry it out.

Examples:
  syncstage scan ~/Photos --ext jpg,heic      # List matching files
  syncstage dedupe ~/Photos                   # Report duplicate groups
  syncstage dedupe ~/Photos --mode hardlink   # Preview linking duplicates
  syncstage dedupe ~/Photos --mode delete --apply
  syncstage verify write ~/Photos             # Write a manifest
  syncstage verify check ~/Photos             # Compare against it
  syncstage rename ~/Photos --template '{created:%Y%m%d} {stem}{ext}'
  syncstage organize ~/Inbox --by date_ext --apply
  syncstage clean ~/Photos --apply
  syncstage history                           # Past runs`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.bootstrap,
		PersistentPostRunE: a.shutdown,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: "+config.ConfigPath()+")")
	pf.StringSliceP("root", "r", nil, "root directory, repeatable (default: configured roots, else .)")
	pf.StringSliceP("ignore", "e", nil, "extra ignore pattern, repeatable")
	pf.Bool("apply", false, "carry out the plan (the default is a dry run)")
	pf.StringP("output", "o", "pretty", "output format: "+strings.Join(output.Available(), ", "))
	pf.String("format", "", "text/template used with -o template")
	pf.IntP("workers", "w", 0, "hash and scan workers (0 = auto)")
	pf.Bool("no-cache", false, "do not read or write the digest cache")
	pf.BoolP("verbose", "v", false, "log debug output to stderr")
	pf.BoolP("quiet", "q", false, "only print the report")

	a.bind(pf, "root", "roots")
	a.bind(pf, "workers", "dedupe.workers")
	for _, name := range []string{"ignore", "apply", "output", "format", "no-cache", "verbose", "quiet"} {
		a.bind(pf, name, "cli."+strings.ReplaceAll(name, "-", "_"))
	}

	cmd.AddCommand(
		newScanCmd(a),
		newDedupeCmd(a),
		newVerifyCmd(a),
		newRenameCmd(a),
		newOrganizeCmd(a),
		newMirrorCmd(a),
		newCleanCmd(a),
		newHistoryCmd(a),
		newCacheCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// bind ties a flag to a config key. Flags left unset fall through to the
// environment, the config file and the defaults. Several commands bind
// the same key, so bindings take effect in bindFlags for the command
// that runs.
func (a *app) bind(fs *pflag.FlagSet, name, key string) {
	a.bindings = append(a.bindings, binding{fs: fs, name: name, key: key})
}

// bindFlags applies the bindings of cmd's own and inherited flags.
func (a *app) bindFlags(cmd *cobra.Command) error {
	for _, b := range a.bindings {
		if b.fs != cmd.Flags() && b.fs != cmd.Root().PersistentFlags() {
			continue
		}
		if err := a.v.BindPFlag(b.key, b.fs.Lookup(b.name)); err != nil {
			return fmt.Errorf("binding --%s: %w", b.name, err)
		}
	}
	return nil
}

// skipBootstrap marks commands that must work without a valid config.
func skipBootstrap(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}

func (a *app) dryRun() bool { return !a.v.GetBool("cli.apply") }
func (a *app) verbose() bool { return a.v.GetBool("cli.verbose") }
func (a *app) quiet() bool   { return a.v.GetBool("cli.quiet") }

// printInfo writes a progress line to stderr unless --quiet is set.
func (a *app) printInfo(format string, args ...any) {
	if !a.quiet() {
		_, _ = fmt.Fprintf(a.stderr, format+"\n", args...)
	}
}
