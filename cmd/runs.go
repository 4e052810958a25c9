package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"maxpop/internal/storage"
	"maxpop/internal/tui/history"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if useTUI, _ := cmd.Flags().GetBool("tui"); useTUI {
			_, err := tea.NewProgram(history.NewModel(store), tea.WithAltScreen()).Run()
			return err
		}

		runs, err := store.Runs()
		if err != nil {
			return err
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Write the samples of a run to CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRunID(store, args[0])
		if err != nil {
			return err
		}
		samples, err := store.Samples(id)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("maxpop-%s.csv", id)
		}
		if err := storage.ExportFile(out, samples); err != nil {
			return err
		}
		fmt.Printf("✅ %d samples written to %s\n", len(samples), out)
		return nil
	},
}

func init() {
	runsCmd.Flags().Bool("tui", false, "browse runs interactively")
	exportCmd.Flags().StringP("out", "o", "", "output file; .json selects JSON, anything else CSV")
}

func openHistory() (*storage.Store, error) {
	cfg, logger, err := loadConfig(false, "")
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	return storage.Open(cfg.History.Path)
}

// resolveRunID accepts a full id or a unique prefix of one.
func resolveRunID(store *storage.Store, arg string) (string, error) {
	if _, err := store.Get(arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, storage.ErrRunNotFound) {
		return "", err
	}

	runs, err := store.Runs()
	if err != nil {
		return "", err
	}
	var match string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("run id prefix %q is ambiguous", arg)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", storage.ErrRunNotFound, arg)
	}
	return match, nil
}

func printRuns(w io.Writer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tVERSION\tROUNDS\tOUTCOME\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.DateTime), r.Version, r.Samples, r.Outcome, r.Err)
	}
	tw.Flush()
}
