package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/a-h/leaf/internal/config"
	"github.com/a-h/leaf/internal/leaf"
	"github.com/a-h/leaf/internal/metrics"
	"github.com/a-h/leaf/internal/runstate"
)

type CLI struct {
	Globals
	Version VersionCmd `cmd:"" help:"Show version information"`
	Update  UpdateCmd  `cmd:"" help:"Refresh every configured mirror's package catalog"`
	Install InstallCmd `cmd:"" help:"Resolve, fetch, and install one or more packages"`
	List    ListCmd    `cmd:"" help:"List installed packages"`
	Info    InfoCmd    `cmd:"" help:"Show details for an installed package"`
}

var Version = "dev"

type VersionCmd struct{}

func (cmd *VersionCmd) Run(g *Globals) error {
	fmt.Println(Version)
	return nil
}

type UpdateCmd struct{}

func (cmd *UpdateCmd) Run(g *Globals) error {
	l, log, err := newLeaf(g)
	if err != nil {
		return err
	}
	defer l.Close()

	errs := l.Update(context.Background())
	for _, e := range errs {
		log.Error("mirror update failed", slog.String("error", e.Error()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d mirror(s) failed to update", len(errs))
	}
	return nil
}

type InstallCmd struct {
	Names []string `arg:"" help:"Package names to install"`
}

func (cmd *InstallCmd) Run(g *Globals) error {
	l, _, err := newLeaf(g)
	if err != nil {
		return err
	}
	defer l.Close()

	return l.Install(context.Background(), cmd.Names)
}

type ListCmd struct{}

func (cmd *ListCmd) Run(g *Globals) error {
	l, _, err := newLeaf(g)
	if err != nil {
		return err
	}
	defer l.Close()

	summaries, err := l.ListInstalled(context.Background())
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s-%s\t%s\n", s.Name, s.Version, s.Description)
	}
	return nil
}

type InfoCmd struct {
	Name string `arg:"" help:"Package name"`
}

func (cmd *InfoCmd) Run(g *Globals) error {
	l, _, err := newLeaf(g)
	if err != nil {
		return err
	}
	defer l.Close()

	info, err := l.Info(context.Background(), cmd.Name)
	if err != nil {
		return err
	}
	fmt.Printf("name: %s\nhash: %s\ndependencies: %v\n", info.FQName, info.Hash, info.Dependencies)
	return nil
}

// newLeaf loads configuration, builds a logger, initializes metrics, and
// constructs a *leaf.Leaf ready for one CLI operation.
func newLeaf(g *Globals) (*leaf.Leaf, *slog.Logger, error) {
	opts := &slog.HandlerOptions{}
	if g.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}

	m, err := metrics.New()
	if err != nil {
		log.Warn("failed to initialize metrics, continuing without them", slog.String("error", err.Error()))
		m = metrics.Metrics{}
	} else if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(cfg.MetricsAddr); err != nil {
				log.Error("metrics server exited", slog.String("addr", cfg.MetricsAddr), slog.String("error", err.Error()))
			}
		}()
	}

	l, err := leaf.New(cfg, m, log)
	if err != nil {
		return nil, nil, err
	}
	return l, log, nil
}

func main() {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCtx.Done()
		runstate.Stop()
		stop()
	}()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("leaf"),
		kong.Description("A source-agnostic package manager for UNIX-like root filesystems"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
