package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agentfs/internal/config"
	"agentfs/internal/logging"
	"agentfs/internal/session"
	"agentfs/internal/tracker"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// One session per invocation
	sess *session.Session
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentfs",
	Short: "agentfs - session-integrity file operations across composite backends",
	Long: `agentfs routes file operations across a configurable set of local and
remote backends and enforces session-level file integrity: a file must be
read before it can be edited, and an edit is rejected when the file changed
since the last read.

Each invocation runs one session; the files command prints the session's
operation report before exit.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		sess, err = session.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sess != nil {
			sess.Close()
		}
		logging.Sync()
	},
}

// lsCmd lists a directory
var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory on whichever backend claims the path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := "/"
		if len(args) == 1 {
			p = args[0]
		}
		entries, err := sess.List(cmd.Context(), p)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, e := range entries {
			if e.IsDir {
				fmt.Fprintf(&b, "%s/\n", e.Name)
			} else {
				fmt.Fprintf(&b, "%s\t%d\n", e.Name, e.Size)
			}
		}
		fmt.Print(tracker.TruncateResult("list", b.String()))
		return nil
	},
}

var (
	readOffset int
	readLimit  int
)

// readCmd reads a file window
var readCmd = &cobra.Command{
	Use:   "read [path]",
	Short: "Read a file (optionally a line window) and record it for editing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rr, err := sess.Read(cmd.Context(), args[0], readOffset, readLimit)
		if err != nil {
			return err
		}
		out := rr.Content
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		fmt.Print(tracker.TruncateResult("read", out))
		return nil
	},
}

// writeCmd writes a whole file
var writeCmd = &cobra.Command{
	Use:   "write [path] [content]",
	Short: "Create or overwrite a file; reads content from stdin when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 2 {
			content = args[1]
		} else {
			data, err := readAll(cmd)
			if err != nil {
				return err
			}
			content = data
		}
		wr, err := sess.Write(cmd.Context(), args[0], content)
		if err != nil {
			return err
		}
		verb := "updated"
		if wr.CreatedNew {
			verb = "created"
		}
		fmt.Printf("%s %s (%d bytes)\n", verb, args[0], wr.BytesWritten)
		return nil
	},
}

var editAll bool

// editCmd applies a string replacement
var editCmd = &cobra.Command{
	Use:   "edit [path] [old] [new]",
	Short: "Replace a string in a file (reads it first to satisfy integrity checks)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		// A one-shot invocation has no prior read on record, so take one.
		if _, err := sess.Read(cmd.Context(), args[0], 0, -1); err != nil {
			return err
		}
		er, err := sess.Edit(cmd.Context(), args[0], args[1], args[2], editAll)
		if err != nil {
			return err
		}
		fmt.Printf("replaced %d occurrence(s) in %s\n", er.Replacements, args[0])
		return nil
	},
}

// globCmd matches file paths
var globCmd = &cobra.Command{
	Use:   "glob [pattern]",
	Short: "Match file paths across all backends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := sess.Glob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(tracker.TruncateResult("glob", strings.Join(paths, "\n")+lineIfAny(paths)))
		return nil
	},
}

var (
	grepScope string
	grepGlob  string
)

// grepCmd searches file contents
var grepCmd = &cobra.Command{
	Use:   "grep [pattern]",
	Short: "Search file contents across all backends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := sess.Search(cmd.Context(), args[0], grepScope, grepGlob)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, m := range matches {
			fmt.Fprintf(&b, "%s:%d:%s\n", m.Path, m.Line, m.Text)
		}
		fmt.Print(tracker.TruncateResult("search", b.String()))
		return nil
	},
}

var execWorkdir string

// execCmd runs a command on an execution-capable backend
var execCmd = &cobra.Command{
	Use:   "exec [command]",
	Short: "Run a shell command on the backend that owns the working directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := sess.Execute(cmd.Context(), strings.Join(args, " "), execWorkdir)
		if err != nil {
			return err
		}
		out := res.Stdout
		if res.Stderr != "" {
			out += res.Stderr
		}
		fmt.Print(tracker.TruncateResult("execute", out))
		if res.ExitCode != 0 {
			return fmt.Errorf("command exited with status %d", res.ExitCode)
		}
		return nil
	},
}

// filesCmd prints the session report
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Print the session's file-operations report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(sess.FilesReport())
		return nil
	},
}

func readAll(cmd *cobra.Command) (string, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	return string(data), err
}

func lineIfAny(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return "\n"
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentfs.yaml", "config file path")

	readCmd.Flags().IntVar(&readOffset, "offset", 0, "first line to return (0-based)")
	readCmd.Flags().IntVar(&readLimit, "limit", -1, "max lines to return (-1 for all)")
	editCmd.Flags().BoolVar(&editAll, "all", false, "replace every occurrence")
	grepCmd.Flags().StringVar(&grepScope, "path", "", "restrict the search to a path prefix")
	grepCmd.Flags().StringVar(&grepGlob, "glob", "", "restrict the search to matching file names")
	execCmd.Flags().StringVar(&execWorkdir, "workdir", "/", "working directory for the command")

	rootCmd.AddCommand(lsCmd, readCmd, writeCmd, editCmd, globCmd, grepCmd, execCmd, filesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
