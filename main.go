package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/metrico/expsql/config"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/service"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	"github.com/metrico/expsql/sqlgen/utils/stat"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type rootOptions struct {
	ConfigPath string
	cfg        *config.Config
}

type renderOptions struct {
	*rootOptions
	Request string
	Format  string
	Dialect string
	Stats   bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:     "expsql",
		Short:   "Experiment statistics SQL compiler",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logger.InitLogger(cfg, nil)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "the path to the config file")
	cmd.AddCommand(newRenderCommand(opts), newDialectsCommand(opts))
	return cmd
}

func newRenderCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &renderOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the SQL of a request file",
		Long: `Render the SQL of a JSON or YAML request.

The dialect flag overrides the dialect of the request. "all" renders the
request for every registered dialect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Request, "request", "r", "", "request file, - for stdin")
	cmd.Flags().StringVar(&opts.Format, "format", "", "request format (json|yaml), detected when empty")
	cmd.Flags().StringVarP(&opts.Dialect, "dialect", "d", "", "dialect name or all")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print build counters to stderr")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func readRequest(path string) ([]byte, string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	format := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	}
	return data, format, nil
}

func runRender(cmd *cobra.Command, opts *renderOptions) error {
	data, format, err := readRequest(opts.Request)
	if err != nil {
		return err
	}
	if opts.Format != "" {
		format = opts.Format
	}
	req, err := service.DecodeRequest(data, format)
	if err != nil {
		return err
	}
	logger.Debug("rendering ", req.Kind, " request from ", opts.Request)
	svc := service.NewFromConfig(opts.cfg)
	out := cmd.OutOrStdout()

	if strings.EqualFold(opts.Dialect, "all") {
		results, err := svc.RenderAll(context.Background(), req, dialect.All())
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Fprintf(out, "-- %s\n", r.Dialect)
			if r.Error != "" {
				fmt.Fprintf(out, "-- error %d: %s\n\n", r.Code, r.Error)
				continue
			}
			fmt.Fprintf(out, "%s;\n\n", r.SQL)
		}
	} else {
		if opts.Dialect != "" {
			req.Dialect = opts.Dialect
		}
		sql, err := svc.Render(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sql)
	}

	if opts.Stats && !opts.cfg.Metrics.Enabled {
		logger.Warn("--stats ignored, metrics are disabled in the config")
	}
	if opts.Stats && opts.cfg.Metrics.Enabled {
		summary, err := stat.Summary()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.ErrOrStderr(), summary)
	}
	return nil
}

func newDialectsCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the supported dialects and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := service.DialectsJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
