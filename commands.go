package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/fdsn"
	"github.com/seismica/seedvault/internal/fetch"
	"github.com/seismica/seedvault/internal/fsutil"
	"github.com/seismica/seedvault/internal/plan"
	"github.com/seismica/seedvault/internal/report"
	"github.com/seismica/seedvault/internal/runcfg"
	"github.com/seismica/seedvault/internal/scan"
	"github.com/seismica/seedvault/internal/sdsindex"
	"github.com/seismica/seedvault/internal/travel"
)

var (
	runConfigFile string

	runCmd = &cobra.Command{
		Use:   "run-cli",
		Short: "Execute one end-to-end acquisition run",
		RunE:  cmdRun,
	}

	syncPatterns     []string
	syncNewerThan    string
	syncCPU          int
	syncGapTolerance float64

	syncCmd = &cobra.Command{
		Use:   "sync-db <sds_path> <db_path>",
		Short: "Bootstrap or refresh the index from an existing SDS tree",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdSyncDB,
	}

	dbPath string

	compactGapTolerance float64
	compactCmd          = &cobra.Command{
		Use:   "compact",
		Short: "Join adjacent stored intervals within the gap tolerance",
		RunE:  cmdCompact,
	}

	migrateCmd = &cobra.Command{
		Use:       "migrate <up|down|status|force>",
		Short:     "Manage the index schema version",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "status", "force"},
		RunE:      cmdMigrate,
	}

	reportHTML string
	reportCmd  = &cobra.Command{
		Use:   "report",
		Short: "Summarize archive coverage per stream",
		RunE:  cmdReport,
	}

	queryCmd = &cobra.Command{
		Use:   "query <db_path> <sql>",
		Short: "Run a diagnostic SQL statement against the index",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdQuery,
	}

	adminListen string
	adminCmd    = &cobra.Command{
		Use:   "admin",
		Short: "Serve the index debugging surface over HTTP",
		RunE:  cmdAdmin,
	}
)

func init() {
	runCmd.Flags().StringVarP(&runConfigFile, "config", "f", "", "run configuration file")
	_ = runCmd.MarkFlagRequired("config")

	syncCmd.Flags().StringSliceVar(&syncPatterns, "search-patterns", nil, "file name patterns to scan")
	syncCmd.Flags().StringVar(&syncNewerThan, "newer-than", "", "only scan files modified after this time")
	syncCmd.Flags().IntVar(&syncCPU, "cpu", 0, "parallel scan workers (0 = all cores)")
	syncCmd.Flags().Float64Var(&syncGapTolerance, "gap-tolerance", 60, "compaction tolerance in seconds after the scan")

	compactCmd.Flags().StringVar(&dbPath, "db", "", "index database path")
	compactCmd.Flags().Float64Var(&compactGapTolerance, "gap-tolerance", 60, "gap tolerance in seconds")
	_ = compactCmd.MarkFlagRequired("db")

	migrateCmd.Flags().StringVar(&dbPath, "db", "", "index database path")
	_ = migrateCmd.MarkFlagRequired("db")

	reportCmd.Flags().StringVar(&dbPath, "db", "", "index database path")
	reportCmd.Flags().StringVar(&reportHTML, "html", "", "also write an HTML chart to this file")
	_ = reportCmd.MarkFlagRequired("db")

	adminCmd.Flags().StringVar(&dbPath, "db", "", "index database path")
	adminCmd.Flags().StringVar(&adminListen, "listen", ":8080", "listen address")
	_ = adminCmd.MarkFlagRequired("db")

	rootCmd.AddCommand(runCmd, syncCmd, compactCmd, migrateCmd, reportCmd, queryCmd, adminCmd)
}

func cmdRun(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("run_id", uuid.NewString()))
	ctx := cmd.Context()

	cfg, err := runcfg.Load(runConfigFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.SDSPath, 0o755); err != nil {
		return runcfg.ErrConfig.New("create sds_path %s: %v", cfg.SDSPath, err)
	}

	ix, err := sdsindex.Open(cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	creds := fdsn.ParseCredentials(cfg.Credentials)
	inv, err := loadInventory(cmd, cfg, creds, log)
	if err != nil {
		return err
	}
	inv = inv.
		FilterStations(cfg.Station.ForceStations, cfg.Station.ExcludeStations).
		ApplyLocationPreference(cfg.Waveform.LocationPref).
		ApplyChannelPreference(cfg.Waveform.ChannelPref)

	archiver := &fetch.Archiver{
		Client:  fdsn.NewHTTPClient(cfg.Waveform.Client, creds, log),
		Index:   ix,
		FS:      fsutil.OSFileSystem{},
		Root:    cfg.SDSPath,
		Log:     log,
		Workers: cfg.NumProcesses,
	}

	var reqs []plan.FetchRequest
	switch cfg.DownloadType {
	case runcfg.DownloadContinuous:
		reqs = plan.Continuous(inv, cfg.Station.Start, cfg.Station.End, cfg.Waveform.DaysPerRequest)
	case runcfg.DownloadEvent:
		reqs, err = planEvents(cmd, cfg, creds, ix, inv, log)
		if err != nil {
			return err
		}
	}
	log.Info("planned requests", zap.Int("count", len(reqs)))

	pruned, err := plan.Prune(ctx, ix, reqs)
	if err != nil {
		return err
	}
	stats, err := archiver.ArchiveAll(ctx, plan.Combine(pruned))
	if err != nil {
		return err
	}

	compacted, err := ix.Compact(ctx, cfg.GapToleranceDuration())
	if err != nil {
		return err
	}

	log.Info("run finished",
		zap.Int("requests", stats.Requests),
		zap.Int("requests_skipped", stats.RequestsSkipped),
		zap.Int("stations_skipped", stats.StationsSkipped),
		zap.Int("groups_skipped", stats.GroupsSkipped),
		zap.Int("files_written", stats.FilesWritten),
		zap.Int("rows_inserted", stats.RowsInserted),
		zap.Int("rows_compacted", compacted.Deleted))
	return nil
}

func loadInventory(cmd *cobra.Command, cfg runcfg.Config, creds fdsn.Credentials, log *zap.Logger) (fdsn.Inventory, error) {
	if cfg.Station.InventoryFile != "" {
		return fdsn.ReadInventoryFile(cfg.Station.InventoryFile)
	}
	client := fdsn.NewHTTPClient(cfg.Station.Client, creds, log)
	return client.GetStations(cmd.Context(), stationQuery(cfg.Station))
}

func stationQuery(sc runcfg.StationConfig) fdsn.StationQuery {
	return fdsn.StationQuery{
		Network:  sc.Network,
		Station:  sc.Station,
		Location: sc.Location,
		Channel:  sc.Channel,

		Start:       sc.Start,
		End:         sc.End,
		StartBefore: sc.StartBefore,
		StartAfter:  sc.StartAfter,
		EndBefore:   sc.EndBefore,
		EndAfter:    sc.EndAfter,

		MinLatitude:  sc.Geo.MinLatitude,
		MaxLatitude:  sc.Geo.MaxLatitude,
		MinLongitude: sc.Geo.MinLongitude,
		MaxLongitude: sc.Geo.MaxLongitude,
		Latitude:     sc.Geo.Latitude,
		Longitude:    sc.Geo.Longitude,
		MinRadius:    sc.Geo.MinRadius,
		MaxRadius:    sc.Geo.MaxRadius,

		IncludeRestricted: sc.IncludeRestricted,
		Level:             "channel",
	}
}

func planEvents(cmd *cobra.Command, cfg runcfg.Config, creds fdsn.Credentials, ix *sdsindex.Index, inv fdsn.Inventory, log *zap.Logger) ([]plan.FetchRequest, error) {
	var (
		cat fdsn.Catalog
		err error
	)
	if cfg.Event.CatalogFile != "" {
		cat, err = fdsn.ReadCatalogFile(cfg.Event.CatalogFile)
	} else {
		client := fdsn.NewHTTPClient(cfg.Event.Client, creds, log)
		cat, err = client.GetEvents(cmd.Context(), eventQuery(cfg.Event))
	}
	if err != nil {
		return nil, err
	}
	log.Info("loaded event catalog", zap.Int("events", len(cat.Events)))

	model := travel.NewUniformModel()
	if cfg.Event.Model != model.Name() {
		log.Warn("travel-time model not available, using built-in approximation",
			zap.String("requested", cfg.Event.Model),
			zap.String("using", model.Name()))
	}
	planner := &plan.EventPlanner{
		Index:   ix,
		Travel:  model,
		Log:     log,
		BeforeP: time.Duration(cfg.Event.BeforePSec * float64(time.Second)),
		AfterP:  time.Duration(cfg.Event.AfterPSec * float64(time.Second)),
	}

	var reqs []plan.FetchRequest
	for _, ev := range cat.Events {
		planned, err := planner.Plan(cmd.Context(), ev, inv)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, planned...)
	}
	return reqs, nil
}

func eventQuery(ec runcfg.EventConfig) fdsn.EventQuery {
	return fdsn.EventQuery{
		Start:        ec.Start,
		End:          ec.End,
		MinDepthKm:   ec.MinDepthKm,
		MaxDepthKm:   ec.MaxDepthKm,
		MinMagnitude: ec.MinMagnitude,
		MaxMagnitude: ec.MaxMagnitude,

		Latitude:     ec.Geo.Latitude,
		Longitude:    ec.Geo.Longitude,
		MinRadius:    ec.Geo.MinRadius,
		MaxRadius:    ec.Geo.MaxRadius,
		MinLatitude:  ec.Geo.MinLatitude,
		MaxLatitude:  ec.Geo.MaxLatitude,
		MinLongitude: ec.Geo.MinLongitude,
		MaxLongitude: ec.Geo.MaxLongitude,

		IncludeAllOrigins:    ec.IncludeAllOrigins,
		IncludeAllMagnitudes: ec.IncludeAllMagnitudes,
		IncludeArrivals:      ec.IncludeArrivals,

		Limit:        ec.Limit,
		Offset:       ec.Offset,
		Contributor:  ec.Contributor,
		UpdatedAfter: ec.UpdatedAfter,
	}
}

func cmdSyncDB(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	ix, err := sdsindex.Open(args[1], log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	scanner := &scan.Scanner{
		Index:    ix,
		Log:      log,
		Patterns: syncPatterns,
		Workers:  syncCPU,
	}
	if syncNewerThan != "" {
		scanner.NewerThan, err = parseCLITime(syncNewerThan)
		if err != nil {
			return runcfg.ErrConfig.New("bad --newer-than: %v", err)
		}
	}

	stats, err := scanner.Run(ctx, args[0])
	if err != nil {
		return err
	}
	compacted, err := ix.Compact(ctx, time.Duration(syncGapTolerance*float64(time.Second)))
	if err != nil {
		return err
	}
	log.Info("sync finished",
		zap.Int("files", stats.Files),
		zap.Int("skipped", stats.Skipped),
		zap.Int("inserted", stats.Inserted),
		zap.Int("rows_compacted", compacted.Deleted))
	return nil
}

func cmdCompact(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ix, err := sdsindex.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	_, err = ix.Compact(cmd.Context(), time.Duration(compactGapTolerance*float64(time.Second)))
	return err
}

func cmdMigrate(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Open already migrates up.
	ix, err := sdsindex.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	switch args[0] {
	case "up":
		return nil
	case "down":
		return ix.MigrateDown()
	case "status":
		version, dirty, err := ix.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty %v\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return runcfg.ErrConfig.New("migrate force requires a version")
		}
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return runcfg.ErrConfig.New("bad version %q", args[1])
		}
		return ix.MigrateForce(version)
	default:
		return runcfg.ErrConfig.New("unknown migrate action %q", args[0])
	}
}

func cmdReport(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ix, err := sdsindex.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	rep, err := report.Build(cmd.Context(), ix)
	if err != nil {
		return err
	}
	if err := rep.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}
	if reportHTML != "" {
		f, err := os.Create(reportHTML)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return rep.RenderHTML(f)
	}
	return nil
}

func cmdQuery(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ix, err := sdsindex.Open(args[0], log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	res, err := ix.ExecuteQuery(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	if !res.Tabular {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func cmdAdmin(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ix, err := sdsindex.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	mux := http.NewServeMux()
	if err := ix.AttachAdminRoutes(mux); err != nil {
		return err
	}

	srv := &http.Server{Addr: adminListen, Handler: mux}
	go func() {
		<-cmd.Context().Done()
		_ = srv.Close()
	}()

	log.Info("admin server listening", zap.String("addr", adminListen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// parseCLITime accepts RFC 3339 or a bare date.
func parseCLITime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
