// trackctl runs the activity pipeline from the command line: list the
// remote catalog, download a single FIT file, or run a full incremental
// sync into a local directory.
//
// Credentials come from INTERVALS_API_KEY and the athlete ID from
// INTERVALS_ATHLETE_ID or the -athlete flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/tracktiles/server/pkg/bootstrap"
	syncdomain "github.com/tracktiles/server/pkg/domain/sync"
	"github.com/tracktiles/server/pkg/domain/tiles"
	"github.com/tracktiles/server/pkg/infrastructure/storage"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx, os.Args[2:])
	case "download":
		err = runDownload(ctx, os.Args[2:])
	case "sync":
		err = runSync(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "trackctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: trackctl <command> [flags]

commands:
  list       list activities in the remote catalog
  download   download one activity's FIT file
  sync       run a full incremental sync into a local directory`)
}

func newClient(athleteID string) (*intervals.Client, error) {
	apiKey := os.Getenv("INTERVALS_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("INTERVALS_API_KEY is not set")
	}
	if athleteID == "" {
		athleteID = os.Getenv("INTERVALS_ATHLETE_ID")
	}
	if athleteID == "" {
		return nil, fmt.Errorf("athlete ID missing: set -athlete or INTERVALS_ATHLETE_ID")
	}
	return intervals.NewClient(apiKey, athleteID), nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	athlete := fs.String("athlete", "", "athlete ID")
	fs.Parse(args)

	client, err := newClient(*athlete)
	if err != nil {
		return err
	}

	activities, err := client.ListActivities(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTYPE\tNAME\tFINGERPRINT")
	for i := range activities {
		a := &activities[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.StartDateLocal, a.Type, a.Name, a.Fingerprint())
	}
	return w.Flush()
}

func runDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	athlete := fs.String("athlete", "", "athlete ID")
	out := fs.String("o", "", "output file (default <activity-id>.fit)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("download needs exactly one activity ID")
	}
	activityID := fs.Arg(0)

	client, err := newClient(*athlete)
	if err != nil {
		return err
	}

	data, err := client.DownloadFIT(ctx, activityID)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = activityID + ".fit"
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	athlete := fs.String("athlete", "", "athlete ID")
	dir := fs.String("dir", "tracktiles-data", "local data directory")
	genTiles := fs.Bool("tiles", false, "also run tippecanoe and produce a PMTiles file")
	fs.Parse(args)

	client, err := newClient(*athlete)
	if err != nil {
		return err
	}

	logger := bootstrap.NewLogger("trackctl")
	store := &storage.LocalStore{Root: *dir}

	// Local runs key everything under the athlete ID; no status updater
	// since there is nothing polling.
	syncer := syncdomain.NewSyncer(client.AthleteID(), client, store, "activities", nil, logger)
	result, err := syncer.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("downloaded %d, skipped %d unchanged, %d without GPS, %d failed\n",
		result.Stats.Downloaded, result.Stats.Skipped, result.Stats.Empty, result.Stats.Failed)

	if !result.Changed {
		fmt.Println("archive already up to date")
		return nil
	}

	if *genTiles {
		generator := &tiles.Generator{Logger: logger}
		tilesPath, err := generator.Generate(ctx, result.GeoJSONPath)
		if err != nil {
			return err
		}
		dest := filepath.Join(*dir, "activities.pmtiles")
		if err := os.Rename(tilesPath, dest); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", dest)
	}

	return nil
}
