package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventbot/internal/config"
	"eventbot/internal/storage"
)

func setupCmd(cfgPath *string) *cobra.Command {
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the data directory and an empty event database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && d != "file" && d != "json" {
				fmt.Fprintf(out, "storage driver %q creates its schema on first run\n", cfg.Storage.Driver)
			} else {
				path := strings.TrimSpace(cfg.Storage.Path)
				if path == "" {
					path = filepath.Join("data", "database.json")
				}
				if err := setupFileStore(out, path); err != nil {
					return err
				}
			}
			if writeConfig {
				return writeDefaultConfig(out, *cfgPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "also write a default config file when none exists")
	return cmd
}

// setupFileStore creates the database directory, adopts a legacy
// ./database.json when the target does not exist yet, or writes an empty
// document.
func setupFileStore(out io.Writer, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ data directory %s is ready\n", dir)

	const legacy = "database.json"
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && filepath.Clean(path) != legacy {
		if b, err := os.ReadFile(legacy); err == nil {
			if err := os.WriteFile(path, b, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ copied %s to %s\n", legacy, path)
			return nil
		}
	}

	created, err := storage.InitFile(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "✅ created %s\n", path)
	} else {
		fmt.Fprintf(out, "✅ %s already exists\n", path)
	}
	return nil
}

func writeDefaultConfig(out io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "config %s already exists, left untouched\n", path)
		return nil
	}
	b, err := config.Encode(path, config.Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ wrote %s (set telegram.token or %s)\n", path, config.TokenEnv)
	return nil
}

type sampleEvent struct {
	title, description, organizer string
	in                            time.Duration
}

var sampleEvents = []sampleEvent{
	{"Hackathon 2024", "Annual hackathon for developers. Come build something new!", "Organizing committee", 24 * time.Hour},
	{"Python lecture", "An introduction to programming in Python. Beginners welcome.", "Computer science department", 2 * time.Hour},
	{"Volleyball tournament", "Student volleyball tournament. Registration required.", "Sports club", 7 * 24 * time.Hour},
	{"Design masterclass", "Learn the basics of graphic design and make your first project.", "Faculty of design", 3 * 24 * time.Hour},
	{"Alumni meetup", "An informal meetup with alumni. Share experience and advice.", "Alumni association", 5 * 24 * time.Hour},
}

func seedCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Add sample events relative to now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, loc, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			now := time.Now().In(loc)
			for _, e := range sampleEvents {
				id, err := st.AddEvent(cmd.Context(), storage.NewEvent{
					Title:       e.title,
					Description: e.description,
					Date:        now.Add(e.in).Format(storage.IsoLayout),
					Organizer:   e.organizer,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✅ added %s (ID: %d)\n", e.title, id)
			}
			events, err := st.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n✅ %d events in the database\n", len(events))
			return nil
		},
	}
}

func eventCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
	}
	cmd.AddCommand(eventAddCmd(cfgPath))
	cmd.AddCommand(eventListCmd(cfgPath))
	return cmd
}

func eventAddCmd(cfgPath *string) *cobra.Command {
	var ne storage.NewEvent
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(ne.Title) == "" {
				return errors.New("--title is required")
			}
			st, loc, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			start, err := storage.ParseDate(ne.Date, loc)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ne.Date = start.In(loc).Format(storage.IsoLayout)

			id, err := st.AddEvent(cmd.Context(), ne)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ added %s (ID: %d)\n", ne.Title, id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&ne.Title, "title", "", "event title")
	f.StringVar(&ne.Description, "description", "", "event description")
	f.StringVar(&ne.Date, "date", "", "start time, ISO-8601 in reminders.timezone (2006-01-02T15:04:05) or with an offset")
	f.StringVar(&ne.Organizer, "organizer", "", "organizer name")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func eventListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := openStore(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
}

func printEvents(out io.Writer, events []storage.Event) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTITLE\tORGANIZER\tSUBSCRIBERS")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", e.ID, e.Date, e.Title, e.Organizer, len(e.Subscribers))
	}
	return tw.Flush()
}
