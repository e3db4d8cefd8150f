package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dianpeng/xtab/cache"
	"github.com/dianpeng/xtab/config"
	"github.com/dianpeng/xtab/engine"
	"github.com/dianpeng/xtab/logger"
	"github.com/dianpeng/xtab/mv"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/render"
	"github.com/dianpeng/xtab/source"
	"github.com/dianpeng/xtab/source/csvsrc"
	"github.com/dianpeng/xtab/source/sqlsrc"
)

var flags struct {
	config string
	query  string
	mode   string
	data   []string
	db     []string
	vars   []string
	strict bool
	plain  bool
}

var rootCmd = &cobra.Command{
	Use:           "xtab",
	Short:         "Run tabular queries over csv files and sql tables",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a query definition and print its result",
	RunE:  runE,
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show how a query definition would be executed",
	RunE:  explainE,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, explainCmd} {
		c.Flags().StringVarP(&flags.query, "query", "q", "", "path of the query definition (toml)")
		c.Flags().StringVarP(&flags.mode, "mode", "m", "runtime", "execution mode: design, live or runtime")
		c.Flags().StringArrayVarP(&flags.data, "data", "d", nil, "csv source as name=path, repeatable")
		c.Flags().StringArrayVar(&flags.db, "db", nil, "sql source as name=driver,dsn,table, repeatable")
		_ = c.MarkFlagRequired("query")
	}
	runCmd.Flags().StringArrayVar(&flags.vars, "var", nil, "query variable as key=value, repeatable")
	runCmd.Flags().BoolVar(&flags.strict, "strict", false, "report every failure instead of a metadata result")
	runCmd.Flags().BoolVar(&flags.plain, "plain", false, "disable colors")
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "path of the configuration file")
	rootCmd.AddCommand(runCmd, explainCmd)
}

func oops(stage string, err error) {
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", color.RedString("ERROR"), stage, err)
	os.Exit(-1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		oops(rootCmd.Name(), err)
	}
}

func loadConfig() (*config.Config, error) {
	if flags.config == "" {
		return config.NewConfig(), nil
	}
	return config.Load(flags.config)
}

func pair(arg string) (string, string, error) {
	k, v, ok := strings.Cut(arg, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expect key=value, got %q", arg)
	}
	return k, v, nil
}

func catalog(log *zap.Logger) (*source.Catalog, error) {
	c := source.NewCatalog()
	for _, d := range flags.data {
		name, path, err := pair(d)
		if err != nil {
			return nil, err
		}
		c.Register(csvsrc.New(name, path))
	}
	for _, d := range flags.db {
		name, spec, err := pair(d)
		if err != nil {
			return nil, err
		}
		parts := strings.SplitN(spec, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("sql source %q: expect driver,dsn,table", name)
		}
		s, err := sqlsrc.Open(name, parts[0], parts[1], parts[2], log)
		if err != nil {
			return nil, err
		}
		c.Register(s)
	}
	return c, nil
}

// variable values are typed the way csv cells are: integers, then floats,
// then booleans, strings otherwise. A leading zero keeps a code like "010" a
// string.
func variable(v string) interface{} {
	if len(v) > 1 && v[0] == '0' && v[1] >= '0' && v[1] <= '9' {
		return v
	}
	if i, err := cast.ToInt64E(v); err == nil {
		return i
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f
	}
	if b, err := cast.ToBoolE(v); err == nil && (v == "true" || v == "false") {
		return b
	}
	return v
}

type session struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *engine.Engine
	query  *query.LogicalQuery
	mode   int
	views  *mv.BoltRegistry
}

func (self *session) Close() {
	if self.views != nil {
		self.views.Close()
	}
	self.log.Sync()
}

func open() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg: cfg,
		log: logger.New(os.Stderr, cfg.Logging),
	}
	if s.mode, err = query.ParseMode(flags.mode); err != nil {
		return nil, err
	}
	def, err := query.LoadDefinition(flags.query)
	if err != nil {
		return nil, err
	}
	if s.query, err = def.Query(); err != nil {
		return nil, err
	}
	cat, err := catalog(s.log)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(s.log)}
	if cfg.Cache.Enabled {
		opts = append(opts, engine.WithCache(cache.New(cfg.Cache.MaxEntries)))
	}
	if cfg.MV.Path != "" {
		if s.views, err = mv.OpenBolt(cfg.MV.Path, cfg.MV.MaxAge); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithViews(s.views))
	}
	if s.engine, err = engine.New(cfg.Engine, cat, opts...); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func runE(cmd *cobra.Command, _ []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	vars := map[string]interface{}{}
	for _, v := range flags.vars {
		k, val, err := pair(v)
		if err != nil {
			return err
		}
		vars[k] = variable(val)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := s.engine.Run(ctx, s.query, &engine.Context{
		Mode:   s.mode,
		Vars:   vars,
		Strict: flags.strict,
	})
	if err != nil {
		return err
	}
	defer res.Stream.Close()

	opts := render.NewOptions()
	opts.Plain = flags.plain
	if _, err := render.Write(ctx, cmd.OutOrStdout(), res.Stream, opts); err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.YellowString("WARNING"), w)
	}
	return nil
}

func explainE(cmd *cobra.Command, _ []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	lines, err := s.engine.Explain(s.query, s.mode)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}
	return nil
}
