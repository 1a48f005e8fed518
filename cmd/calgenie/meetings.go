package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/calgenie/internal/icalendar"
)

func newMeetingsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "Inspect and exchange stored meetings",
	}
	cmd.AddCommand(newMeetingsListCmd(opts))
	cmd.AddCommand(newMeetingsExportCmd(opts))
	cmd.AddCommand(newMeetingsImportCmd(opts))
	return cmd
}

func newMeetingsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			snap, err := a.Store.Load(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTART\tEND\tORGANIZERS")
			for _, m := range snap.Meetings {
				var organizers []string
				for _, p := range m.Organizers() {
					organizers = append(organizers, p.Email)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Title, m.StartTime, m.EndTime, strings.Join(organizers, ","))
			}
			return tw.Flush()
		},
	}
}

func newMeetingsExportCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored meetings as iCalendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			snap, err := a.Store.Load(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			return icalendar.Encode(w, snap.Meetings, time.Now())
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newMeetingsImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Merge an iCalendar file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			a, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := icalendar.Import(cmd.Context(), a.Store, f)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new and %d replaced meetings.\n", res.Added, res.Replaced)
			return err
		},
	}
}
