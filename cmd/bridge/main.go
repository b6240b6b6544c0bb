package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/loader"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

// Version is set via -ldflags
var Version = "dev"

type rootFlags struct {
	configPath string
	verbose    bool
}

type runFlags struct {
	urls        []string
	bytecodeOut string
	dump        bool
	watch       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:     "bridge",
		Short:   "Evaluate script, markup and bytecode bundles in a script page",
		Version: Version,
		Long: titleStyle.Render("bridge") + mutedStyle.Render(" - script page runner") + `

Bundles are evaluated in name order into one page. Scripts share global
state, markup is parsed into the page document and its inline scripts run,
bytecode units produced by a previous run are validated and executed.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML or TOML config file (env overrides it)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newCompileCommand(flags))
	root.AddCommand(newInspectCommand())
	return root
}

func newRunCommand(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [files, directories or globs...]",
		Short: "Evaluate bundles into one page",
		Example: `  bridge run app/ 'lib/**/*.js'
  bridge run index.html --dump
  bridge run --url https://cdn.example.com/app.js
  bridge run src/ --bytecode-out build/ --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(flags.urls) == 0 {
				return errors.New("no bundles given")
			}
			return runBundles(cmd, root, flags, args)
		},
	}

	cmd.Flags().StringArrayVar(&flags.urls, "url", nil, "remote bundle to fetch and evaluate (repeatable)")
	cmd.Flags().StringVar(&flags.bytecodeOut, "bytecode-out", "", "write the bytecode of each script bundle to this directory")
	cmd.Flags().BoolVar(&flags.dump, "dump", false, "print the page document when done")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "re-evaluate local bundles when they change")
	return cmd
}

func runBundles(cmd *cobra.Command, root *rootFlags, flags *runFlags, patterns []string) error {
	cfg, logger, err := setup(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	r, err := newRunner(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer r.Close()

	var bundles []loader.Bundle
	if len(patterns) > 0 {
		local, err := r.loader.Files(patterns...)
		if err != nil {
			return err
		}
		bundles = append(bundles, local...)
	}
	for _, u := range flags.urls {
		remote, err := r.loader.Fetch(cmd.Context(), u)
		if err != nil {
			return err
		}
		bundles = append(bundles, remote)
	}

	ok := r.runAll(bundles, flags.bytecodeOut)

	if flags.watch && len(patterns) > 0 {
		if err := watchBundles(cmd.Context(), r, patterns, flags.bytecodeOut, logger); err != nil {
			return err
		}
	}

	if flags.dump {
		markup, err := r.Document()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), markup)
	}

	if !ok {
		return errBundlesFailed
	}
	return nil
}

func newCompileCommand(root *rootFlags) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "compile [files, directories or globs...]",
		Short: "Check script bundles and write them as bytecode without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			bundles, err := loader.New(cfg.Bundles(), logger).Files(args...)
			if err != nil {
				return err
			}

			failed := false
			for _, b := range bundles {
				if b.Kind != loader.KindScript {
					continue
				}
				unit, err := compileBundle(b)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", errorStyle.Render("failed"), err)
					failed = true
					continue
				}
				path, err := writeUnit(outDir, b.Name, unit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("ok"), path)
			}
			if failed {
				return errBundlesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file.gjbc...]",
		Short: "Validate bytecode units and print their headers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, name := range args {
				data, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				unit, digest, err := bytecode.Decode(data)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", errorStyle.Render("invalid"), name, err)
					failed = true
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n  %s %s\n  %s %d\n  %s %d bytes\n  %s %s\n",
					successStyle.Render("valid"), name,
					mutedStyle.Render("source:"), unit.Filename,
					mutedStyle.Render("start line:"), unit.StartLine,
					mutedStyle.Render("script:"), len(unit.Source),
					mutedStyle.Render("digest:"), digest)
			}
			if failed {
				return errBundlesFailed
			}
			return nil
		},
	}
}

func setup(root *rootFlags) (*config.Config, *logging.Logger, error) {
	var cfg *config.Config
	var err error
	if root.configPath != "" {
		cfg, err = config.LoadFile(root.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if root.verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	lc := cfg.Logger()
	if !root.verbose && cfg.Logging.Level == "info" {
		lc.Level = "warn"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
