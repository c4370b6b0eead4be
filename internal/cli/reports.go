package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	collectorv1 "github.com/ppiankov/rtcwatch/api/collector/v1"
	"github.com/ppiankov/rtcwatch/internal/client"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/store"
)

var (
	reportsDB          string
	reportsRemote      string
	reportsPage        string
	reportsDescription string
	reportsSource      string
	reportsAccess      string
	reportsLimit       int
	reportsCounts      bool
	reportsFormat      string
)

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.Flags().StringVar(&reportsDB, "db", defaultDBPath(), "SQLite database written by the sqlite sink")
	reportsCmd.Flags().StringVar(&reportsRemote, "remote", "", "Query a collector at this gRPC address instead of --db")
	reportsCmd.Flags().StringVar(&reportsPage, "page", "", "Only records from this page ID")
	reportsCmd.Flags().StringVar(&reportsDescription, "description", "", "Only this member (Owner.member)")
	reportsCmd.Flags().StringVar(&reportsSource, "source", "", "Only this call site URL")
	reportsCmd.Flags().StringVar(&reportsAccess, "access", "", "Only this access type (call, get, set)")
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 100, "Maximum records to print (0 for all)")
	reportsCmd.Flags().BoolVar(&reportsCounts, "counts", false, "Print access counts per member and call site")
	reportsCmd.Flags().StringVarP(&reportsFormat, "format", "f", "text", "Output format (text|json)")
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Query stored report records",
	Long:  "Reads records from a local SQLite database or a running collector.",
	RunE:  runReports,
}

// defaultDBPath returns ~/.rtcwatch/reports.db.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reports.db"
	}
	return filepath.Join(home, ".rtcwatch", "reports.db")
}

func runReports(cmd *cobra.Command, args []string) error {
	switch reportsAccess {
	case "", string(model.AccessCall), string(model.AccessGet), string(model.AccessSet):
	default:
		return fmt.Errorf("unknown access type %q: use call, get or set", reportsAccess)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if reportsRemote != "" {
		return reportsFromCollector(ctx, out)
	}

	if _, err := os.Stat(reportsDB); err != nil {
		return fmt.Errorf("database %s: %w", reportsDB, err)
	}
	s, err := store.Open(reportsDB)
	if err != nil {
		return err
	}
	defer s.Close()

	q := store.Query{
		PageID:      reportsPage,
		Description: reportsDescription,
		Source:      reportsSource,
		AccessType:  model.AccessType(reportsAccess),
		Limit:       reportsLimit,
	}
	if reportsCounts {
		counts, err := s.Counts(ctx, q)
		if err != nil {
			return err
		}
		return printCounts(out, counts)
	}
	recs, err := s.Records(ctx, q)
	if err != nil {
		return err
	}
	return printRecords(out, recs)
}

func reportsFromCollector(ctx context.Context, out io.Writer) error {
	c, err := client.New(reportsRemote)
	if err != nil {
		return err
	}
	defer c.Close()

	req := &collectorv1.QueryRequest{
		PageID:      reportsPage,
		Description: reportsDescription,
		Source:      reportsSource,
		AccessType:  reportsAccess,
		Limit:       int32(reportsLimit),
	}
	if reportsCounts {
		remote, err := c.Counts(ctx, req)
		if err != nil {
			return err
		}
		counts := make([]store.Count, len(remote))
		for i, rc := range remote {
			counts[i] = store.Count{Description: rc.Description, Source: rc.Source, Count: int(rc.Count)}
		}
		return printCounts(out, counts)
	}
	recs, err := c.Query(ctx, req)
	if err != nil {
		return err
	}
	return printRecords(out, recs)
}

func printRecords(w io.Writer, recs []report.Record) error {
	if reportsFormat == "json" {
		if recs == nil {
			recs = []report.Record{}
		}
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPAGE\tACCESS\tMEMBER\tSOURCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Timestamp, r.PageID, r.AccessType, r.Description, r.Source)
	}
	return tw.Flush()
}

func printCounts(w io.Writer, counts []store.Count) error {
	if reportsFormat == "json" {
		if counts == nil {
			counts = []store.Count{}
		}
		data, err := json.MarshalIndent(counts, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(w, "No records.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNT\tMEMBER\tSOURCE")
	for _, c := range counts {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", c.Count, c.Description, c.Source)
	}
	return tw.Flush()
}
