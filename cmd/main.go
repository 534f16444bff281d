package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/appcontext"
	"github.com/tablecrate/tablecrate/internal/config"
	"github.com/tablecrate/tablecrate/internal/hub"
	"github.com/tablecrate/tablecrate/internal/ingest"
	"github.com/tablecrate/tablecrate/internal/publish"
)

const usage = `tablecrate - convert delimited files and publish the artifacts

Usage:
  tablecrate convert [-publish] [-tier TIER] <file>
  tablecrate builddb [-name NAME] [-tier TIER] <file> [<file>...]
  tablecrate upload [-tier TIER] <artifact>
  tablecrate files list
  tablecrate files rename <id> <name>
  tablecrate files delete <id>

Tiers: temp (default), persistent, permanent (admin only).
Identity comes from TC_USER_EMAIL; unset means anonymous, temp-only.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	appCtx, err := config.InitContext()
	if err != nil {
		log.Fatalf("Failed to initialize context: %v", err)
	}

	defer func() {
		_ = appCtx.Logger.Sync()
	}()
	defer func() {
		if err := appCtx.Session.Close(); err != nil {
			appCtx.Logger.Error("Failed to close engine session", zap.Error(err))
		}
	}()

	sqlDB, err := appCtx.DB.DB()
	if err != nil {
		appCtx.Logger.Fatal("Failed to get underlying SQL DB from GORM DB", zap.Error(err))
	}
	defer sqlDB.Close()

	ctx := context.Background()
	if err := run(ctx, appCtx, os.Args[1], os.Args[2:]); err != nil {
		var denied *publish.DeniedError
		if errors.As(err, &denied) {
			fmt.Fprintln(os.Stderr, renderDenial(denied.Decision))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, appCtx *appcontext.Context, command string, args []string) error {
	switch command {
	case "convert":
		return runConvert(ctx, appCtx, args)
	case "builddb":
		return runBuildDB(ctx, appCtx, args)
	case "upload":
		return runUpload(ctx, appCtx, args)
	case "files":
		return runFiles(ctx, appCtx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runConvert(ctx context.Context, appCtx *appcontext.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	doPublish := fs.Bool("publish", false, "publish the converted file instead of saving it locally")
	tier := fs.String("tier", string(admission.TierTemporary), "storage tier")
	out := fs.String("o", "", "output path for local save (defaults to <table>.parquet)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("convert takes exactly one file")
	}

	eng, err := appCtx.Session.Engine()
	if err != nil {
		return err
	}

	src, err := publish.Convert(ctx, eng, fs.Arg(0))
	if err != nil {
		return err
	}

	if !*doPublish {
		path := *out
		if path == "" {
			path = src.Filename()
		}
		if err := os.WriteFile(path, src.Data(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Printf("wrote %s (%d bytes)\n", path, len(src.Data()))
		return nil
	}

	return publishSource(ctx, appCtx, admission.Tier(*tier), src)
}

func runBuildDB(ctx context.Context, appCtx *appcontext.Context, args []string) error {
	fs := flag.NewFlagSet("builddb", flag.ExitOnError)
	name := fs.String("name", "database", "artifact name")
	tier := fs.String("tier", string(admission.TierTemporary), "storage tier")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("builddb takes one or more files")
	}

	eng, err := appCtx.Session.Engine()
	if err != nil {
		return err
	}

	for _, path := range fs.Args() {
		table := ingest.TableNameFor(path)
		if err := ingest.Ingest(ctx, eng, path, table); err != nil {
			return err
		}
	}

	tables, err := eng.Tables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Printf("table %s: %d rows, %d columns\n", t.Name, t.RowCount, len(t.Columns))
	}

	return publishSource(ctx, appCtx, admission.Tier(*tier), &publish.DatabaseSource{Eng: eng, Name: *name})
}

func runUpload(ctx context.Context, appCtx *appcontext.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	tier := fs.String("tier", string(admission.TierTemporary), "storage tier")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("upload takes exactly one artifact file")
	}

	return publishSource(ctx, appCtx, admission.Tier(*tier), &publish.FileSource{Path: fs.Arg(0)})
}

func runFiles(ctx context.Context, appCtx *appcontext.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("files takes a subcommand: list, rename, delete")
	}

	id, err := appCtx.Store.Identity(ctx, os.Getenv("TC_USER_EMAIL"))
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		records, err := appCtx.Store.ListFiles(ctx, id.ID)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %-30s  %7.2f MB  %s  %s\n", r.ID, r.DisplayName, r.SizeMB, r.Format, r.DownloadURL)
		}
		return nil
	case "rename":
		if len(args) != 3 {
			return fmt.Errorf("files rename takes <id> <name>")
		}
		fileID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid file id: %w", err)
		}
		return appCtx.Store.RenameFile(ctx, id.ID, fileID, args[2])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("files delete takes <id>")
		}
		fileID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid file id: %w", err)
		}
		record, err := appCtx.Store.DeleteFile(ctx, id.ID, fileID)
		if err != nil {
			return err
		}
		// Purge of the remote bytes is best-effort; the local soft delete
		// stands either way.
		if err := appCtx.Hub.Delete(ctx, record.FileName); err != nil {
			appCtx.Logger.Warn("Failed to purge remote file", zap.Error(err),
				zap.String("filename", record.FileName))
		}
		fmt.Printf("deleted %s\n", record.DisplayName)
		return nil
	default:
		return fmt.Errorf("unknown files subcommand %q", args[0])
	}
}

func publishSource(ctx context.Context, appCtx *appcontext.Context, tier admission.Tier, src publish.ByteSource) error {
	id, err := appCtx.Store.Identity(ctx, os.Getenv("TC_USER_EMAIL"))
	if err != nil {
		return err
	}

	var lastPercent int64 = -1
	progress := hub.ProgressFunc(func(sent, total int64) {
		if total == 0 {
			return
		}
		percent := sent * 100 / total
		if percent != lastPercent {
			lastPercent = percent
			fmt.Printf("\ruploading... %3d%%", percent)
			if percent == 100 {
				fmt.Println()
			}
		}
	})

	result, err := appCtx.Publisher.Publish(ctx, id, tier, src, progress)
	if err != nil {
		return err
	}

	fmt.Printf("published %s (tier %s)\n", result.Filename, result.Tier)
	fmt.Printf("download: %s\n", result.DownloadURL)
	if result.ExpiresInHours > 0 {
		fmt.Printf("expires in %d hours\n", result.ExpiresInHours)
	}
	return nil
}

func renderDenial(d admission.Decision) string {
	switch d.Reason {
	case admission.ReasonArtifactTooLarge:
		return fmt.Sprintf("upload denied: artifact is %.1f MB, limit is %.0f MB",
			d.Detail.ActualMB, d.Detail.LimitMB)
	case admission.ReasonFileCountLimit:
		return fmt.Sprintf("upload denied: %d of %d file slots used; delete a file or use the temp tier",
			d.Detail.CurrentCount, d.Detail.MaxCount)
	case admission.ReasonStorageFull:
		return fmt.Sprintf("upload denied: %.1f MB needed but only %.1f MB of storage available",
			d.Detail.EstimatedMB, d.Detail.AvailableMB)
	default:
		return fmt.Sprintf("upload denied: %s", d.Reason)
	}
}
