// Package windycity wires the cabs pipeline together for the Chicago taxi
// trips dataset. Each exported stage method on Main corresponds to a command.
package windycity

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/aws/s3"
	"github.com/windycity/cabs/boltdb"
	"github.com/windycity/cabs/file"
	"github.com/windycity/cabs/geohash"
	"github.com/windycity/cabs/kafka"
	"github.com/windycity/cabs/leveldb"
	"github.com/windycity/cabs/parquet"
	"github.com/windycity/cabs/postgres"
	"github.com/windycity/cabs/socrata"
	"github.com/windycity/cabs/termstat"
)

// Main holds the configuration of every stage.
type Main struct {
	Config  string `help:"TOML configuration file."`
	DataDir string `help:"Root of the raw, staging and state directories."`

	Endpoint  string        `help:"Socrata resource URL of the trips dataset."`
	AppToken  string        `help:"Socrata application token."`
	PageSize  int           `help:"Rows requested per page."`
	Attempts  int           `help:"Attempts per page on throttling or server errors."`
	RateLimit float64       `help:"Maximum requests per second, 0 for unlimited."`
	Timeout   time.Duration `help:"Timeout of a single request."`

	Lookback    time.Duration `help:"Refetched before the watermark on every run."`
	StartDate   string        `help:"First run start date (YYYY-MM-DD). Overrides first-run."`
	FirstRun    time.Duration `help:"How far back the first run starts when no start date is set."`
	SettleDelay time.Duration `help:"Trips newer than now minus this are left for a later run."`
	Days        int           `help:"Number of most recent raw partitions read by stage. Load reads every partition its window overlaps."`

	Timezone       string   `help:"Location used for trip date, hour and weekday."`
	KeyFields      []string `help:"Fields hashed into the business key, in order."`
	RequiredFields []string `help:"Key fields which may not be empty."`
	OutlierRule    string   `help:"Outlier rule: range, quantile or stddev."`
	OutlierParam   float64  `help:"Quantile or number of standard deviations for the outlier rule."`
	Precision      uint     `help:"Geohash precision for pickup and dropoff centroids, 0 to disable."`

	Bucket string `help:"Land and reread raw files in this S3 bucket instead of the data directory."`
	Region string `help:"AWS region of the bucket."`
	Prefix string `help:"Key prefix inside the bucket."`

	Store     string `help:"Staged trips store: postgres or leveldb."`
	Database  string `help:"PostgreSQL connection string."`
	State     string `help:"Watermark store: file, bolt or postgres."`
	BatchSize int    `help:"Rows per upsert statement."`

	Brokers []string `help:"Kafka brokers for the change feed."`
	Topic   string   `help:"Kafka topic for the change feed. Empty disables it."`

	ExportDir string   `help:"Directory written by export."`
	Tables    []string `help:"Mart tables to export. Empty means all."`

	Verbose   bool   `help:"Enable debug logging."`
	LogFormat string `help:"Log format: text or json."`
	LogPath   string `help:"Append logs to this file instead of stderr."`

	log     *logrus.Logger
	stats   *termstat.Collector
	out     io.Writer
	db      *sql.DB
	closers []io.Closer
}

// NewMain returns a Main with the defaults of the Chicago deployment.
func NewMain() *Main {
	return &Main{
		DataDir:        "data",
		Endpoint:       socrata.DefaultURL,
		PageSize:       socrata.DefaultPageSize,
		Attempts:       socrata.DefaultAttempts,
		Timeout:        2 * time.Minute,
		Lookback:       cabs.DefaultLookback,
		FirstRun:       cabs.DefaultFirstRunLookback,
		Days:           7,
		Timezone:       "UTC",
		KeyFields:      cabs.DefaultKeyFields,
		RequiredFields: cabs.DefaultRequiredKeyFields,
		OutlierRule:    "range",
		Precision:      geohash.DefaultPrecision,
		Store:          "postgres",
		Database:       "postgres://localhost:5432/cabs?sslmode=disable",
		State:          "file",
		BatchSize:      postgres.DefaultBatchSize,
		Brokers:        []string{"localhost:9092"},
		ExportDir:      "exports",
		LogFormat:      "text",
		out:            os.Stderr,
	}
}

// SetOutput sets where logs and run summaries go when no log path is set.
func (m *Main) SetOutput(w io.Writer) {
	m.out = w
}

func (m *Main) rawDir() string     { return filepath.Join(m.DataDir, "raw") }
func (m *Main) stagingDir() string { return filepath.Join(m.DataDir, "staging") }
func (m *Main) stateDir() string   { return filepath.Join(m.DataDir, "state") }

func (m *Main) setup() error {
	if m.out == nil {
		m.out = os.Stderr
	}
	m.log = logrus.New()
	m.log.SetOutput(m.out)
	if m.Verbose {
		m.log.SetLevel(logrus.DebugLevel)
	}
	switch m.LogFormat {
	case "", "text":
		m.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		m.log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", m.LogFormat)
	}
	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		m.log.SetOutput(f)
		m.closers = append(m.closers, f)
	}
	m.stats = termstat.NewCollector(m.out)
	return nil
}

func (m *Main) close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			m.log.Printf("closing: %v", err)
		}
	}
	m.closers = nil
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

// stage runs fn with logging and stats set up, then prints the counters.
func (m *Main) stage(name string, fn func() error) error {
	if err := m.setup(); err != nil {
		return err
	}
	defer m.close()
	m.log.Debugf("%s: starting", name)
	err := fn()
	if ferr := m.stats.Flush(); ferr != nil && err == nil {
		err = errors.Wrap(ferr, "writing summary")
	}
	return errors.Wrap(err, name)
}

func (m *Main) openDB(ctx context.Context) (*sql.DB, error) {
	if m.db != nil {
		return m.db, nil
	}
	db, err := postgres.Open(ctx, m.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	m.db = db
	return db, nil
}

func (m *Main) deduplicator() (*cabs.Deduplicator, error) {
	keyer, err := cabs.NewKeyer(m.KeyFields, m.RequiredFields)
	if err != nil {
		return nil, errors.Wrap(err, "building business key")
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "loading timezone")
	}
	outliers, err := cabs.OutlierPolicyByName(m.OutlierRule, m.OutlierParam)
	if err != nil {
		return nil, err
	}
	d := &cabs.Deduplicator{
		Keyer:    keyer,
		Location: loc,
		Outliers: outliers,
		Log:      m.log,
	}
	if m.Precision > 0 {
		d.Transformers = append(d.Transformers, &geohash.Transformer{Precision: m.Precision})
	}
	return d, nil
}

func (m *Main) planner() (cabs.Planner, error) {
	p := cabs.Planner{
		Lookback:         m.Lookback,
		FirstRunLookback: m.FirstRun,
		SettleDelay:      m.SettleDelay,
	}
	if m.StartDate != "" {
		d, err := time.Parse("2006-01-02", m.StartDate)
		if err != nil {
			return p, errors.Wrap(err, "parsing start date")
		}
		p.StartDate = d
	}
	return p, nil
}

func (m *Main) apiSource() *socrata.Source {
	return socrata.NewSource(
		socrata.OptURL(m.Endpoint),
		socrata.OptAppToken(m.AppToken),
		socrata.OptPageSize(m.PageSize),
		socrata.OptRetry(m.Attempts, time.Second, time.Minute),
		socrata.OptRate(m.RateLimit),
		socrata.OptTimeout(m.Timeout),
		socrata.OptLogger(m.log),
	)
}

// rawSource reads back what lander wrote. Days only caps a read of the zero
// window.
func (m *Main) rawSource() (cabs.Source, error) {
	if m.Bucket != "" {
		return s3.NewSource(
			s3.OptSourceBucket(m.Bucket),
			s3.OptSourceRegion(m.Region),
			s3.OptSourcePrefix(m.Prefix),
			s3.OptSourceDays(m.Days),
			s3.OptSourceLogger(m.log),
		)
	}
	return file.NewSource(m.rawDir(), file.OptSrcDays(m.Days), file.OptSrcLogger(m.log)), nil
}

func (m *Main) lander() (cabs.Lander, error) {
	if m.Bucket != "" {
		return s3.NewLander(
			s3.OptLanderBucket(m.Bucket),
			s3.OptLanderRegion(m.Region),
			s3.OptLanderPrefix(m.Prefix),
			s3.OptLanderLogger(m.log),
		)
	}
	return file.NewLander(m.rawDir(), file.OptLanderLogger(m.log))
}

// tracker returns the watermark tracker of the named pipeline.
func (m *Main) tracker(ctx context.Context, name string) (*cabs.Tracker, error) {
	var store cabs.StateStore
	switch m.State {
	case "", "file":
		store = file.NewStateFile(filepath.Join(m.stateDir(), name+"_state.json"))
	case "bolt":
		if err := os.MkdirAll(m.stateDir(), 0755); err != nil {
			return nil, errors.Wrap(err, "creating state directory")
		}
		bs, err := boltdb.NewStateStore(filepath.Join(m.stateDir(), "state.db"), name)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, bs)
		store = bs
	case "postgres":
		db, err := m.openDB(ctx)
		if err != nil {
			return nil, err
		}
		store = postgres.NewStateStore(db, name)
	default:
		return nil, errors.Errorf("unknown state store %q", m.State)
	}
	return cabs.NewTracker(store, cabs.OptTrackerLogger(m.log)), nil
}

func (m *Main) upserter(ctx context.Context) (cabs.Upserter, error) {
	switch m.Store {
	case "postgres":
		db, err := m.openDB(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db, postgres.OptStoreBatchSize(m.BatchSize), postgres.OptStoreLogger(m.log)), nil
	case "leveldb":
		s, err := leveldb.NewStore(filepath.Join(m.DataDir, "stg_trips"))
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, s)
		return s, nil
	}
	return nil, errors.Errorf("unknown store %q", m.Store)
}

func (m *Main) publisher() cabs.Publisher {
	if m.Topic == "" {
		return nil
	}
	p := kafka.NewPublisher(m.Brokers, m.Topic, kafka.OptPublisherLogger(m.log))
	m.closers = append(m.closers, p)
	return p
}

// runner assembles a Runner reading from src with the named watermark.
func (m *Main) runner(ctx context.Context, name string, src cabs.Source) (*cabs.Runner, error) {
	tracker, err := m.tracker(ctx, name)
	if err != nil {
		return nil, err
	}
	planner, err := m.planner()
	if err != nil {
		return nil, err
	}
	deduper, err := m.deduplicator()
	if err != nil {
		return nil, err
	}
	return &cabs.Runner{
		Source:  src,
		Tracker: tracker,
		Planner: planner,
		Deduper: deduper,
		Log:     m.log,
		Stats:   m.stats,
	}, nil
}

// Run fetches the next window from the API, lands it, and stages, upserts and
// publishes it in one go.
func (m *Main) Run(ctx context.Context) error {
	return m.stage("run", func() error {
		r, err := m.runner(ctx, "run", m.apiSource())
		if err != nil {
			return err
		}
		if r.Lander, err = m.lander(); err != nil {
			return err
		}
		if r.Upserter, err = m.upserter(ctx); err != nil {
			return err
		}
		r.Publisher = m.publisher()
		rep, err := r.Run(ctx)
		if rep != nil {
			rep.Print(m.log)
		}
		return err
	})
}

// Ingest fetches the next window from the API and lands it as raw partitions.
func (m *Main) Ingest(ctx context.Context) error {
	return m.stage("ingest", func() error {
		r, err := m.runner(ctx, "ingest", m.apiSource())
		if err != nil {
			return err
		}
		if r.Lander, err = m.lander(); err != nil {
			return err
		}
		rep, err := r.Land(ctx)
		if rep != nil {
			rep.Print(m.log)
		}
		return err
	})
}

// Stage rereads the most recent raw partitions and replaces the parquet
// snapshot of every trip date found in them.
func (m *Main) Stage(ctx context.Context) error {
	return m.stage("stage", func() error {
		deduper, err := m.deduplicator()
		if err != nil {
			return err
		}
		src, err := m.rawSource()
		if err != nil {
			return err
		}
		trips, err := src.Fetch(ctx, cabs.Window{})
		if err != nil {
			return err
		}
		m.stats.Count("read", int64(len(trips)), 1)
		staged, rep := deduper.Dedupe(trips)
		for _, e := range rep.Errors() {
			m.log.Debugf("record error: %v", e)
		}
		m.stats.Count("staged", int64(len(staged)), 1)
		m.stats.Count("duplicates", int64(rep.Duplicates), 1)
		m.stats.Count("invalid", int64(len(rep.Invalid)), 1)
		m.stats.Count("conflicts", int64(len(rep.Conflicts)), 1)
		dates, err := parquet.NewWriter(m.stagingDir(), parquet.OptWriterLogger(m.log)).Write(ctx, staged)
		m.stats.Count("snapshots", int64(len(dates)), 1)
		return err
	})
}

// Load upserts the landed raw records inside the load window into the staged
// trips store and advances the load watermark.
func (m *Main) Load(ctx context.Context) error {
	return m.stage("load", func() error {
		src, err := m.rawSource()
		if err != nil {
			return err
		}
		r, err := m.runner(ctx, "load", src)
		if err != nil {
			return err
		}
		if r.Upserter, err = m.upserter(ctx); err != nil {
			return err
		}
		r.Publisher = m.publisher()
		rep, err := r.Run(ctx)
		if rep != nil {
			rep.Print(m.log)
		}
		return err
	})
}

// Transform rebuilds the marts from the staged trips.
func (m *Main) Transform(ctx context.Context) error {
	return m.stage("transform", func() error {
		if m.Store != "postgres" {
			return errors.Errorf("marts are built in postgres, store is %q", m.Store)
		}
		db, err := m.openDB(ctx)
		if err != nil {
			return err
		}
		tables, err := postgres.RebuildMarts(ctx, db, m.log)
		m.stats.Count("marts", int64(len(tables)), 1)
		return err
	})
}

// Export writes the marts as CSV files.
func (m *Main) Export(ctx context.Context) error {
	return m.stage("export", func() error {
		db, err := m.openDB(ctx)
		if err != nil {
			return err
		}
		res, err := postgres.Export(ctx, db, m.ExportDir, m.Tables, m.log)
		for _, n := range res {
			m.stats.Count("exported", int64(n), 1)
		}
		return err
	})
}
