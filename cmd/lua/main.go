// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"

	"treewalk.zombiezen.dev/lua"
	"treewalk.zombiezen.dev/lua/internal/value"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "lua",
		Short:         "tree-walking Lua interpreter",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultConfig()
	var configPath string
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "`path` to a JWCC configuration file")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := g.mergeFile(configPath); err != nil {
			return initError{err}
		}
		g.mergeEnvironment()
		initLogging(*showDebug || g.Debug)
		return nil
	}

	rootCommand.AddCommand(
		newRunCommand(g),
		newDumpCommand(g),
		newLoadCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		var ie initError
		if errors.As(err, &ie) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// initError marks a failure that happened before any chunk ran,
// reported with exit code 2 rather than the runtime error code 1.
type initError struct {
	err error
}

func (e initError) Error() string { return e.err.Error() }
func (e initError) Unwrap() error { return e.err }

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "lua: ", log.StdFlags, nil),
		})
	})
}

func newRunCommand(g *config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run [FILE [ARGS ...]]",
		Short:                 "run a Lua script (or start a REPL)",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ArbitraryArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), g, args)
	}
	return c
}

func newState(g *config) *lua.State {
	st := lua.New(&lua.Options{
		MaxCallDepth: g.MaxCallDepth,
		Output:       os.Stdout,
	})
	pkg := value.NewTable(2)
	pkg.Set(value.String("path"), value.String(g.Path))
	pkg.Set(value.String("cpath"), value.String(g.CPath))
	st.Interp().Globals.Set(value.String("package"), pkg)
	return st
}

func run(ctx context.Context, g *config, args []string) error {
	st := newState(g)
	defer xcontext.CloseWhenDone(ctx, st).Close()

	if len(args) == 0 {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return repl(ctx, st)
		}
		source, err := io.ReadAll(os.Stdin)
		if err != nil {
			return initError{err}
		}
		return runChunk(ctx, st, string(source), "=stdin", args)
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		return initError{err}
	}
	return runChunk(ctx, st, string(source), args[0], args[1:])
}

func runChunk(ctx context.Context, st *lua.State, source, name string, scriptArgs []string) error {
	f, err := st.LoadString(source, name, "bt", nil)
	if err != nil {
		return initError{err}
	}
	callArgs := make([]lua.Value, len(scriptArgs))
	for i, a := range scriptArgs {
		callArgs[i] = value.String(a)
	}
	if _, err := st.Run(ctx, f, callArgs...); err != nil {
		return fmt.Errorf("%s", st.ErrorTrace(err))
	}
	return nil
}

func repl(ctx context.Context, st *lua.State) error {
	fmt.Println("Lua 5.4 (tree-walk)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// An expression is tried first, so `1+2` prints 3 without a
		// leading `return`.
		f, err := st.LoadString("return "+line, "=stdin", "t", nil)
		if err != nil {
			f, err = st.LoadString(line, "=stdin", "t", nil)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		results, err := st.Run(ctx, f)
		if err != nil {
			fmt.Fprintln(os.Stderr, st.ErrorTrace(err))
			continue
		}
		if len(results) > 0 {
			parts := make([]string, len(results))
			for i, r := range results {
				parts[i] = value.ToString(r)
			}
			fmt.Println(strings.Join(parts, "\t"))
		}
	}
}

func newDumpCommand(g *config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "dump [options] FILE",
		Short:                 "serialize a script to a binary chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	outPath := c.Flags().StringP("output", "o", "luac.out", "write the chunk to `path`")
	compress := c.Flags().Bool("compress", false, "bzip2-compress the chunk")
	debugDump := c.Flags().Bool("debug-dump", false, "also print the chunk's globals table as JSON after running it")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := newState(g)
		defer xcontext.CloseWhenDone(ctx, st).Close()

		source, err := os.ReadFile(args[0])
		if err != nil {
			return initError{err}
		}
		f, err := st.LoadString(string(source), args[0], "t", nil)
		if err != nil {
			return initError{err}
		}
		var chunk []byte
		if *compress {
			chunk, err = st.DumpCompressed(f)
		} else {
			chunk, err = st.Dump(f)
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(*outPath, chunk, 0o666); err != nil {
			return err
		}
		if *debugDump {
			if _, err := st.Run(ctx, f); err != nil {
				return fmt.Errorf("%s", st.ErrorTrace(err))
			}
			out, err := lua.DebugJSON(st.Interp().Globals)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return nil
	}
	return c
}

func newLoadCommand(g *config) *cobra.Command {
	c := &cobra.Command{
		Use:                   "load [options] FILE [ARGS ...]",
		Short:                 "run a binary chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	compressed := c.Flags().Bool("compressed", false, "the chunk is bzip2-compressed")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := newState(g)
		defer xcontext.CloseWhenDone(ctx, st).Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return initError{err}
		}
		var f *lua.Function
		if *compressed {
			f, err = st.LoadCompressed(data)
		} else {
			f, err = st.Load(data)
		}
		if err != nil {
			return initError{err}
		}
		callArgs := make([]lua.Value, len(args)-1)
		for i, a := range args[1:] {
			callArgs[i] = value.String(a)
		}
		if _, err := st.Run(ctx, f, callArgs...); err != nil {
			return fmt.Errorf("%s", st.ErrorTrace(err))
		}
		return nil
	}
	return c
}
