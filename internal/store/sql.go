package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"math"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/model"
)

const defaultTextWidth = 255

const columns = `id, device_id, "timestamp", temperature, humidity, moisture_content, spectral_valid,
	ch0, ch1, ch2, ch3, ch4, ch5, ch6, ch7, ch8, ch9, ch10`

const insertQuery = `INSERT INTO sensor_data
	(device_id, "timestamp", temperature, humidity, moisture_content, spectral_valid,
	 ch0, ch1, ch2, ch3, ch4, ch5, ch6, ch7, ch8, ch9, ch10)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id`

type row struct {
	ID              int64          `db:"id"`
	DeviceID        string         `db:"device_id"`
	Timestamp       string         `db:"timestamp"`
	Temperature     sql.NullString `db:"temperature"`
	Humidity        sql.NullString `db:"humidity"`
	MoistureContent sql.NullString `db:"moisture_content"`
	SpectralValid   bool           `db:"spectral_valid"`
	Ch0             sql.NullInt64  `db:"ch0"`
	Ch1             sql.NullInt64  `db:"ch1"`
	Ch2             sql.NullInt64  `db:"ch2"`
	Ch3             sql.NullInt64  `db:"ch3"`
	Ch4             sql.NullInt64  `db:"ch4"`
	Ch5             sql.NullInt64  `db:"ch5"`
	Ch6             sql.NullInt64  `db:"ch6"`
	Ch7             sql.NullInt64  `db:"ch7"`
	Ch8             sql.NullInt64  `db:"ch8"`
	Ch9             sql.NullInt64  `db:"ch9"`
	Ch10            sql.NullInt64  `db:"ch10"`
}

func (r row) reading() model.SensorReading {
	out := model.SensorReading{
		ID:              r.ID,
		DeviceID:        r.DeviceID,
		Timestamp:       r.Timestamp,
		Temperature:     nullable(r.Temperature),
		Humidity:        nullable(r.Humidity),
		MoistureContent: nullable(r.MoistureContent),
		SpectralValid:   r.SpectralValid,
	}
	ch := [model.ChannelCount]sql.NullInt64{r.Ch0, r.Ch1, r.Ch2, r.Ch3, r.Ch4, r.Ch5, r.Ch6, r.Ch7, r.Ch8, r.Ch9, r.Ch10}
	if !ch[0].Valid {
		return out
	}
	var s model.Spectrum
	for i, c := range ch {
		s[i] = c.Int64
	}
	out.Spectrum = &s
	return out
}

func textArg(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// SQLStore implements Store on sqlx.
type SQLStore struct {
	db        *sqlx.DB
	driver    string
	textWidth int
	log       logging.Logger
}

// Open connects to the database and, when cfg.AutoMigrate is set, brings the
// schema up to date.
func Open(ctx context.Context, cfg Config, log logging.Logger) (*SQLStore, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.NewConnectivityError("failed to open database", err)
	}
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		// every pooled connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewConnectivityError("failed to reach database", err)
	}

	if cfg.AutoMigrate {
		if err := MigrateUp(db.DB, cfg.Driver); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := NewSQLStore(db, cfg.Driver, cfg.MaxTextWidth, log)
	log.Infof("[Store] connected (%s)", cfg.Driver)
	return s, nil
}

// NewSQLStore wraps an open handle. The schema must already exist.
func NewSQLStore(db *sqlx.DB, driverName string, textWidth int, log logging.Logger) *SQLStore {
	if textWidth <= 0 {
		textWidth = defaultTextWidth
	}
	return &SQLStore{db: db, driver: driverName, textWidth: textWidth, log: log}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

func (s *SQLStore) Insert(ctx context.Context, r model.SensorReading) (model.SensorReading, error) {
	if err := s.validate(r); err != nil {
		return model.SensorReading{}, err
	}

	args := []interface{}{r.DeviceID, r.Timestamp, textArg(r.Temperature), textArg(r.Humidity), textArg(r.MoistureContent), r.SpectralValid}
	for i := 0; i < model.ChannelCount; i++ {
		if r.Spectrum == nil {
			args = append(args, nil)
			continue
		}
		args = append(args, r.Spectrum[i])
	}

	var id int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(insertQuery), args...).Scan(&id); err != nil {
		return model.SensorReading{}, classify("failed to insert sensor reading", err)
	}
	r.ID = id
	return r, nil
}

func (s *SQLStore) QueryAll(ctx context.Context) ([]model.SensorReading, error) {
	rows := []row{}
	q := `SELECT ` + columns + ` FROM sensor_data ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, classify("failed to query sensor data", err)
	}
	return toReadings(rows), nil
}

func (s *SQLStore) QueryByDevice(ctx context.Context, deviceID string) ([]model.SensorReading, error) {
	rows := []row{}
	q := s.db.Rebind(`SELECT ` + columns + ` FROM sensor_data WHERE device_id = ? ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, deviceID); err != nil {
		return nil, classify("failed to query sensor data by device", err)
	}
	return toReadings(rows), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewConnectivityError("failed to ping database", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toReadings(rows []row) []model.SensorReading {
	out := make([]model.SensorReading, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.reading())
	}
	return out
}

// validate applies the column constraints up front so both dialects reject
// the same records. SQLite does not enforce VARCHAR widths.
func (s *SQLStore) validate(r model.SensorReading) error {
	if r.DeviceID == "" {
		return errors.NewValidationError("device_id is required", nil)
	}
	if r.Timestamp == "" {
		return errors.NewValidationError("timestamp is required", nil)
	}
	text := []struct {
		name string
		v    *string
	}{
		{"device_id", &r.DeviceID},
		{"timestamp", &r.Timestamp},
		{"temperature", r.Temperature},
		{"humidity", r.Humidity},
		{"moisture_content", r.MoistureContent},
	}
	for _, f := range text {
		if f.v == nil {
			continue
		}
		if n := utf8.RuneCountInString(*f.v); n > s.textWidth {
			return errors.NewValidationError(
				fmt.Sprintf("%s is %d characters, limit is %d", f.name, n, s.textWidth), nil)
		}
	}
	if r.Spectrum != nil {
		for i, v := range r.Spectrum {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return errors.NewValidationError(fmt.Sprintf("ch%d value %d out of range", i, v), nil)
			}
		}
	}
	return nil
}

// classify maps driver errors onto the error taxonomy.
func classify(msg string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08":
			return errors.NewConnectivityError(msg, err)
		case pqErr.Code.Class() == "22", pqErr.Code.Class() == "23":
			return errors.NewValidationError(msg, err)
		}
	}

	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrTooBig, sqlite3.ErrMismatch:
			return errors.NewValidationError(msg, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return errors.NewConnectivityError(msg, err)
		}
	}

	var netErr net.Error
	if stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, sql.ErrConnDone) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.As(err, &netErr) {
		return errors.NewConnectivityError(msg, err)
	}
	if strings.Contains(err.Error(), "database is closed") {
		return errors.NewConnectivityError(msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
