package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/scitrack/sinks/offline"
	"github.com/YuminosukeSato/scitrack/tracking"
)

func newInspectCmd() *cobra.Command {
	var (
		limit      int
		headerOnly bool
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the header and records of an offline run file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rd, err := offline.Open(args[0])
			if err != nil {
				return err
			}
			defer rd.Close()

			out := cmd.OutOrStdout()
			printHeader(out, rd.Header())
			if headerOnly {
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tPATH\tKIND\tVALUE")
			n := 0
			for {
				rec, err := rd.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					w.Flush()
					return err
				}
				n++
				if limit > 0 && n > limit {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rec.Step, rec.Path, rec.Value.Kind, formatValue(rec.Value))
			}
			w.Flush()

			fmt.Fprintf(out, "\nrecords: %d\n", n)
			if st := rd.Status(); st != nil {
				fmt.Fprintf(out, "status:  %s", st.State)
				if st.Reason != "" {
					fmt.Fprintf(out, " (%s)", st.Reason)
				}
				fmt.Fprintf(out, " at %s\n", st.ClosedAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "status:  incomplete (no status frame)")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many records (0 = all)")
	cmd.Flags().BoolVar(&headerOnly, "header", false, "print only the file header")
	return cmd
}

func printHeader(out io.Writer, h offline.Header) {
	fmt.Fprintf(out, "run:     %s\n", h.RunID)
	if h.RunName != "" {
		fmt.Fprintf(out, "name:    %s\n", h.RunName)
	}
	fmt.Fprintf(out, "created: %s\n", h.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "version: %d\n", h.Version)
	keys := make([]string, 0, len(h.Tags))
	for k := range h.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "tag:     %s=%s\n", k, h.Tags[k])
	}
	fmt.Fprintln(out)
}

func formatValue(v tracking.Value) string {
	switch v.Kind {
	case tracking.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case tracking.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case tracking.KindString:
		return strconv.Quote(v.Str)
	case tracking.KindBool:
		return strconv.FormatBool(v.Bool)
	case tracking.KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	default:
		return "?"
	}
}
