package main

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"jt-go/internal/app"
	"jt-go/internal/config"
	"jt-go/internal/handoff"
	"jt-go/internal/jt"
	"jt-go/internal/pipeline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a JTApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Collect", "Expire").
func newApp(ctx context.Context, operation string) (*app.JTApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewJTApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "jt",
	Short:        "Change-journal collector and activity store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Println("Add [[volumes]] entries before running `jt collect`.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Retention: %s\n", cfg.HotTier.Retention)
		fmt.Printf("Hand-off:  %s (encrypt=%t)\n", cfg.Handoff.Type, cfg.Handoff.Encrypt)
		fmt.Println("Volumes:")
		if len(cfg.Volumes) == 0 {
			fmt.Println("  (none)")
		}
		for _, v := range cfg.Volumes {
			switch v.Type {
			case "dump":
				fmt.Printf("  %-6s dump  %s\n", v.Name, v.DumpDir)
			case "usn":
				fmt.Printf("  %-6s usn   %s\n", v.Name, v.Device)
			default:
				fmt.Printf("  %-6s %s\n", v.Name, v.Type)
			}
		}
		return nil
	},
}

// collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect new journal records into the hot tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		volumes, _ := cmd.Flags().GetStringSlice("volume")

		a, err := newApp(cmd.Context(), "Collect")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Collect(cmd.Context(), volumes)
		if report != nil {
			printRun(report)
		}
		if err != nil {
			return fmt.Errorf("collect failed: %w", err)
		}
		if report.Status() == pipeline.StatusError {
			return fmt.Errorf("run %s failed on every volume", report.RunID)
		}
		return nil
	},
}

func printRun(r *pipeline.RunReport) {
	fmt.Printf("Run %s: %s, %d record(s) ingested in %s\n",
		r.RunID, r.Status(), r.Ingested(), r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond))
	for i := range r.Volumes {
		v := &r.Volumes[i]
		fmt.Printf("  %-6s batches=%d ingested=%d duplicates=%d skipped=%d decode_errors=%d cursor=%d..%d\n",
			v.Volume, v.Batches, v.Ingested, v.Duplicates, len(v.Skipped), len(v.DecodeErrors), v.StartCursor, v.EndCursor)
		for _, rs := range v.Resyncs {
			fmt.Printf("  !! RESYNC REQUIRED: %s\n", rs)
		}
		if v.Failed != nil {
			fmt.Printf("  !! stopped at %s\n", v.Failed)
		}
		if v.Err != nil {
			fmt.Printf("  !! %s\n", v.Err)
		}
	}
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Collect continuously until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", strings.Join(a.Volumes(), ", "))
		return a.Watch(cmd.Context(), printRun)
	},
}

// query command
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query live hot-tier records",
}

var queryTimeCmd = &cobra.Command{
	Use:   "time",
	Short: "Records ingested in a time range",
	Long:  "Records ingested at or after --from and before --to. Times are RFC 3339 or a duration before now, e.g. 24h. --to defaults to now.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")

		now := time.Now()
		from, err := parseTime(fromFlag, now)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to := now
		if toFlag != "" {
			if to, err = parseTime(toFlag, now); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
		}

		return runQuery(cmd, func(ctx context.Context, a *app.JTApp) iter.Seq2[jt.ActivityRecord, error] {
			return a.QueryByTimeRange(ctx, from, to)
		})
	},
}

var queryEntityCmd = &cobra.Command{
	Use:   "entity ENTITY_ID",
	Short: "Records of one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, a *app.JTApp) iter.Seq2[jt.ActivityRecord, error] {
			return a.QueryByEntity(ctx, args[0])
		})
	},
}

var queryTypeCmd = &cobra.Command{
	Use:   "type TYPE",
	Short: "Records of one activity type (create, delete, modify, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, ok := jt.ParseActivityType(strings.ToLower(args[0]))
		if !ok {
			return fmt.Errorf("unknown activity type %q", args[0])
		}
		return runQuery(cmd, func(ctx context.Context, a *app.JTApp) iter.Seq2[jt.ActivityRecord, error] {
			return a.QueryByActivityType(ctx, typ)
		})
	},
}

var queryPathCmd = &cobra.Command{
	Use:   "path PATTERN",
	Short: "Records whose path matches a prefix or glob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(ctx context.Context, a *app.JTApp) iter.Seq2[jt.ActivityRecord, error] {
			return a.QueryByPathPattern(ctx, args[0])
		})
	},
}

func runQuery(cmd *cobra.Command, query func(context.Context, *app.JTApp) iter.Seq2[jt.ActivityRecord, error]) error {
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := newApp(cmd.Context(), "Query")
	if err != nil {
		return err
	}
	defer a.Close()

	n := 0
	for rec, err := range query(cmd.Context(), a) {
		if err != nil {
			return err
		}
		if limit > 0 && n == limit {
			fmt.Printf("... limit of %d reached\n", limit)
			break
		}
		printRecord(&rec)
		n++
	}
	if n == 0 {
		fmt.Println("No records.")
	}
	return nil
}

func printRecord(r *jt.ActivityRecord) {
	typ := string(r.ActivityType)
	if r.Ext.RenameRole != jt.RenameNone {
		typ += "/" + string(r.Ext.RenameRole)
	}
	fmt.Printf("%s  %-20s  %.2f  %s:%d  %s\n",
		r.Timestamp.Local().Format("2006-01-02 15:04:05"),
		typ,
		r.ImportanceScore,
		r.VolumeID, r.Sequence,
		r.Path,
	)
}

// parseTime accepts RFC 3339 or a duration before now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("time required")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor a duration", s)
	}
	return t, nil
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the hot tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")

		a, err := newApp(cmd.Context(), "Stats")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Stats(cmd.Context(), top)
		if err != nil {
			return err
		}

		fmt.Printf("Live records: %d\n", st.Total)
		if st.Total == 0 {
			return nil
		}
		fmt.Println("By type:")
		for _, typ := range sortedKeys(st.ByType) {
			fmt.Printf("  %-16s %d\n", typ, st.ByType[typ])
		}
		fmt.Println("By volume:")
		for _, v := range sortedKeys(st.ByVolume) {
			fmt.Printf("  %-16s %d\n", v, st.ByVolume[v])
		}
		fmt.Println("Top reasons:")
		for _, rc := range st.TopReasons {
			fmt.Printf("  %-24s %d\n", rc.Name, rc.Count)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// expire command
var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Remove records past retention, handing them off first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Expire")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Expire(cmd.Context())
		if err != nil {
			return fmt.Errorf("expire failed after %d record(s): %w", n, err)
		}
		fmt.Printf("Expired %d record(s)\n", n)
		return nil
	},
}

// bump command
var bumpCmd = &cobra.Command{
	Use:   "bump VOLUME SEQUENCE DELTA",
	Short: "Raise a record's importance score",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[1], err)
		}
		delta, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid delta %q: %w", args[2], err)
		}

		a, err := newApp(cmd.Context(), "Bump")
		if err != nil {
			return err
		}
		defer a.Close()

		score, err := a.Bump(cmd.Context(), args[0], seq, delta)
		if err != nil {
			return err
		}
		fmt.Printf("%s:%d importance %.2f\n", args[0], seq, score)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View collection run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		operations, _ := cmd.Flags().GetBool("operations")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		if operations {
			ops, err := a.Operations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				fmt.Printf("%s  %-10s  %s  %-8s  %-10s  %s\n",
					op.LogID,
					op.Operation,
					op.Started().Local().Format("2006-01-02 15:04:05"),
					op.Status,
					op.Duration().Truncate(time.Millisecond),
					op.Parameters,
				)
			}
			return nil
		}

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No collection runs recorded.")
			return nil
		}
		for _, r := range runs {
			ingested := 0
			for _, v := range r.Volumes {
				ingested += v.Ingested
			}
			fmt.Printf("%s  %s  %-8s  %6d  %s\n",
				shortID(r.RunID),
				r.Started().Local().Format("2006-01-02 15:04:05"),
				r.Status,
				ingested,
				r.Duration().Truncate(time.Millisecond),
			)
			for _, v := range r.Volumes {
				for _, rs := range v.Resyncs {
					fmt.Printf("    %s: %s\n", v.Volume, rs)
				}
				if v.Error != "" {
					fmt.Printf("    %s: %s\n", v.Volume, v.Error)
				}
			}
		}
		return nil
	},
}

// cursors command
var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "Show per-volume collection cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Cursors")
		if err != nil {
			return err
		}
		defer a.Close()

		cursors, err := a.Cursors(cmd.Context())
		if err != nil {
			return err
		}
		if len(cursors) == 0 {
			fmt.Println("No cursors yet; run `jt collect`.")
			return nil
		}
		for _, c := range cursors {
			fmt.Printf("%-6s  %-24s  %12d  %s\n",
				c.VolumeID, c.JournalIdentity, c.LastSequence, c.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// handoff command
var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Manage warm-tier hand-off batches",
}

var handoffKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the age key pair for encrypted hand-off",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		recipient, err := app.GenerateHandoffKeys(cfg, passphrase)
		if err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Recipient:   %s\n", recipient)
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var handoffOpenCmd = &cobra.Command{
	Use:   "open FILE",
	Short: "Print the records of a hand-off batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var passphrase string
		if strings.HasSuffix(args[0], handoff.EncryptedExt) {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		b, err := app.OpenHandoffBatch(cfg, args[0], passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Batch %s from %s, created %s, %d record(s)\n",
			b.ID, b.HostID, b.CreatedAt.Local().Format("2006-01-02 15:04:05"), len(b.Records))
		for i := range b.Records {
			printRecord(&b.Records[i])
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the document store",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.MigrateDatabase(cfg)
		if err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Printf("Schema at version %d\n", st.Version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version %d of %d (%s)\n", st.Version, st.Latest, st.State())
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "BackupDatabase")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// query subcommands
	queryCmd.AddCommand(queryTimeCmd)
	queryCmd.AddCommand(queryEntityCmd)
	queryCmd.AddCommand(queryTypeCmd)
	queryCmd.AddCommand(queryPathCmd)
	queryCmd.PersistentFlags().IntP("limit", "n", 100, "Maximum number of records to show (0 for all)")
	queryTimeCmd.Flags().String("from", "24h", "Start time, RFC 3339 or a duration before now")
	queryTimeCmd.Flags().String("to", "", "End time (exclusive), RFC 3339 or a duration before now")

	// handoff subcommands
	handoffCmd.AddCommand(handoffKeygenCmd)
	handoffCmd.AddCommand(handoffOpenCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringSliceP("volume", "v", nil, "Volume to collect (repeatable; default all)")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Int("top", 10, "Number of reasons to list")
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(bumpCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	historyCmd.Flags().Bool("operations", false, "List store-mutating commands instead of runs")
	rootCmd.AddCommand(cursorsCmd)
	rootCmd.AddCommand(handoffCmd)
	rootCmd.AddCommand(dbCmd)
}
