package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/pixvault/go-common/cache"
	"github.com/pixvault/go-common/config"
	"github.com/pixvault/go-common/tui"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/cobra"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <files...>",
		Short: "Add photos to the photo store and print their keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()
			for _, fn := range args {
				data, err := os.ReadFile(fn)
				if err != nil {
					return errors.Wrapf(err, "error reading %s", fn)
				}
				key, err := a.store.Import(cmd.Context(), filepath.Base(fn), data)
				if err != nil {
					return errors.Wrapf(err, "error importing %s", fn)
				}
				fmt.Fprintf(out, "%s\t%s\n", key, fn)
			}
			return nil
		}),
	}
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a thumbnail and report which tier served it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			key := cache.Key(args[0])
			began := time.Now()
			img, tier := a.cache.GetTier(cmd.Context(), key)
			if img == nil {
				return errors.Newf("no thumbnail for %s", key)
			}
			b := img.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%dx%d\t%s\n", key, tier, b.Dx(), b.Dy(), time.Since(began).Round(time.Microsecond))
			if output, _ := cmd.Flags().GetString("output"); output != "" {
				if err := imaging.Save(img, output, imaging.JPEGQuality(a.config.Thumbnail.Quality)); err != nil {
					return errors.Wrapf(err, "error writing %s", output)
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringP("output", "o", "", "write the thumbnail to this file")
	return cmd
}

func newPreloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preload [keys...]",
		Short: "Warm the cache for a set of photos",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			keys := make([]cache.Key, 0, len(args))
			for _, arg := range args {
				keys = append(keys, cache.Key(arg))
			}
			if all, _ := cmd.Flags().GetBool("all"); all {
				stored, err := a.store.Keys(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "error listing photos")
				}
				keys = append(keys, stored...)
			}
			if len(keys) == 0 {
				return errors.New("no keys given, pass keys or --all")
			}
			var report cache.PreloadReport
			tui.ShowSpinner(cmd.Context(), fmt.Sprintf("Preloading %d thumbnails ...", len(keys)), func(ctx context.Context) {
				report = <-a.cache.Preload(ctx, keys)
			})
			if err := a.cache.Flush(cmd.Context()); err != nil {
				return errors.Wrap(err, "error flushing cache")
			}
			tui.Table(cmd.OutOrStdout(), []string{"Requested", "Memory", "Duplicates", "Disk", "Generated", "Failed", "Skipped", "Elapsed"}, [][]string{{
				strconv.Itoa(report.Requested),
				strconv.Itoa(report.MemoryHits),
				strconv.Itoa(report.Duplicates),
				strconv.Itoa(report.DiskHits),
				strconv.Itoa(report.Generated),
				strconv.Itoa(report.Failed),
				strconv.Itoa(report.Skipped),
				report.Elapsed.Round(time.Millisecond).String(),
			}})
			if report.Failed > 0 {
				tui.ShowWarning("%d thumbnails could not be generated", report.Failed)
			}
			return nil
		}),
	}
	cmd.Flags().Bool("all", false, "preload every photo in the store")
	return cmd
}

func newInvalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <keys...>",
		Short: "Remove thumbnails from both cache tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, arg := range args {
				a.cache.Invalidate(cache.Key(arg))
			}
			if err := a.cache.Flush(cmd.Context()); err != nil {
				return errors.Wrap(err, "error flushing cache")
			}
			tui.ShowSuccess("invalidated %d thumbnails", len(args))
			return nil
		}),
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache tier statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			// loads the disk index
			if err := a.cache.Flush(cmd.Context()); err != nil {
				return errors.Wrap(err, "error flushing cache")
			}
			stats := a.cache.Stats()
			out := cmd.OutOrStdout()
			tui.Table(out, []string{"Tier", "Entries", "Size", "Limit", "Hits", "Misses", "Evictions"}, [][]string{
				{
					"memory",
					strconv.Itoa(stats.Memory.Entries),
					formatBytes(stats.Memory.Cost),
					formatBytes(stats.Memory.CostLimit),
					strconv.FormatInt(stats.Memory.Hits, 10),
					strconv.FormatInt(stats.Memory.Misses, 10),
					strconv.FormatInt(stats.Memory.Evictions, 10),
				},
				{
					"disk",
					strconv.FormatInt(stats.Disk.Entries, 10),
					formatBytes(stats.Disk.Bytes),
					formatBytes(stats.Disk.SizeLimit),
					strconv.FormatInt(stats.Disk.Hits, 10),
					strconv.FormatInt(stats.Disk.Misses, 10),
					strconv.FormatInt(stats.Disk.Evictions+stats.Disk.Expired, 10),
				},
			})
			if !stats.Disk.Available {
				tui.ShowWarning("disk tier unavailable at %s", stats.Disk.Directory)
				return nil
			}
			usage, err := disk.UsageWithContext(cmd.Context(), stats.Disk.Directory)
			if err != nil {
				a.log.Warn("error reading volume usage for %s: %s", stats.Disk.Directory, err)
				return nil
			}
			tui.Table(out, []string{"Volume", "Free", "Total", "Used"}, [][]string{{
				usage.Path,
				formatBytes(int64(usage.Free)),
				formatBytes(int64(usage.Total)),
				strconv.FormatFloat(usage.UsedPercent, 'f', 1, 64) + "%",
			}})
			return nil
		}),
	}
}

func newPurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached thumbnail",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !tui.Ask(a.log, fmt.Sprintf("Delete all thumbnails in %s?", a.config.Cache.Disk.Directory), false) {
				tui.ShowWarning("purge cancelled")
				return nil
			}
			if err := a.cache.Purge(cmd.Context()); err != nil {
				return errors.Wrap(err, "error purging cache")
			}
			tui.ShowSuccess("purged %s", a.config.Cache.Disk.Directory)
			return nil
		}),
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func formatBytes(n int64) string {
	return config.Bytes(n).String()
}
