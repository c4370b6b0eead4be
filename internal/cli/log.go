package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/reportlog"
)

var (
	tailLines         int
	replayPage        string
	replayDescription string
	replaySource      string
	replayFrom        string
	replayTo          string
	replayFormat      string
)

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logVerifyCmd)
	logCmd.AddCommand(logTailCmd)
	logCmd.AddCommand(logReplayCmd)
	logTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	logReplayCmd.Flags().StringVar(&replayPage, "page", "", "Only entries from this page ID")
	logReplayCmd.Flags().StringVar(&replayDescription, "description", "", "Only members whose description contains this text")
	logReplayCmd.Flags().StringVar(&replaySource, "source", "", "Only call sites whose source contains this text")
	logReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	logReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	logReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Report log operations",
	Long:  "Commands for verifying and inspecting the hash-chained report log written by the log sink.",
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a report log",
	Long:  "Walks the JSONL report log and checks that every entry's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if intact, 1 if altered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogVerify,
}

var logTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent report log entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogTail,
}

var logReplayCmd = &cobra.Command{
	Use:   "replay <path>",
	Short: "Render a timeline of recorded accesses",
	Long:  "Reads the report log, filters by page, member, call site and time range,\nand prints a timeline with per-member counts.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogReplay,
}

func runLogVerify(cmd *cobra.Command, args []string) error {
	result := reportlog.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runLogTail(cmd *cobra.Command, args []string) error {
	result, err := reportlog.Replay(args[0], reportlog.Filter{})
	if err != nil {
		return err
	}
	for _, e := range result.Tail(tailLines).Entries {
		out, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

func runLogReplay(cmd *cobra.Command, args []string) error {
	filter := reportlog.Filter{
		PageID:      replayPage,
		Description: replayDescription,
		Source:      replaySource,
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := reportlog.Replay(args[0], filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := reportlog.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), reportlog.FormatTimeline(result))
	}
	return nil
}
