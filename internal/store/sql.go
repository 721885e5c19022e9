package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver, for exports loaded into PostgreSQL
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite driver, for nsys .sqlite exports

	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/pkg/logutil"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQL opens sessions over an nsys export stored in SQLite or PostgreSQL.
type SQL struct {
	driver       string
	dsn          string
	queryTimeout time.Duration
}

// NewSQL returns an Opener for the given driver and DSN. queryTimeout bounds
// every individual read; zero disables the bound.
func NewSQL(driver, dsn string, queryTimeout time.Duration) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q (want %q or %q)", driver, DriverSQLite, DriverPostgres)
	}
	if dsn == "" {
		return nil, fmt.Errorf("empty DSN for driver %q", driver)
	}
	return &SQL{driver: driver, dsn: dsn, queryTimeout: queryTimeout}, nil
}

// SQLiteDSN returns a read-only DSN for an nsys .sqlite file.
func SQLiteDSN(path string) string {
	return "file:" + path + "?mode=ro"
}

// Open implements Opener. The returned session owns its own connection pool.
func (s *SQL) Open(ctx context.Context) (Session, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, multierr.Append(err, db.Close()))
	}

	return &sqlSession{db: db, driver: s.driver, queryTimeout: s.queryTimeout}, nil
}

func (s *SQL) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.queryTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

type sqlSession struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
	origin       *int64
}

// bindWindow substitutes the driver's numbered placeholders; {lo} may occur
// more than once.
func (s *sqlSession) bindWindow(query string) string {
	lo, hi := "?1", "?2"
	if s.driver == DriverPostgres {
		lo, hi = "$1", "$2"
	}
	return strings.NewReplacer("{lo}", lo, "{hi}", hi).Replace(query)
}

func (s *sqlSession) Origin(ctx context.Context) (int64, error) {
	if s.origin != nil {
		return *s.origin, nil
	}

	var origin int64
	found := false
	for _, q := range []string{queryKernelOrigin, queryMemcpyOrigin} {
		v, err := s.scanNullInt(ctx, q)
		if err != nil {
			return 0, err
		}
		if v.Valid {
			origin, found = v.Int64, true
			break
		}
	}
	if !found {
		logutil.GetLogger().Debug("trace has no kernel or memcpy records, origin defaults to zero")
	}

	s.origin = &origin
	return origin, nil
}

func (s *sqlSession) scanNullInt(ctx context.Context, query string) (sql.NullInt64, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, query).Scan(&v)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, sql.ErrNoRows) || isMissingTable(err):
		return sql.NullInt64{}, nil
	default:
		return sql.NullInt64{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (s *sqlSession) SessionStart(ctx context.Context) (time.Time, error) {
	v, err := s.scanNullInt(ctx, querySessionStart)
	if err != nil {
		return time.Time{}, err
	}
	if !v.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, v.Int64), nil
}

func (s *sqlSession) Events(ctx context.Context, kind trace.Kind, window trace.Window) (batch Batch, err error) {
	var (
		query string
		scan  func(*sql.Rows) (trace.Event, error)
	)
	switch kind {
	case trace.KindKernel:
		query, scan = queryKernels, scanKernel
	case trace.KindTransfer:
		query, scan = queryMemcpy, scanMemcpy
	case trace.KindAPICall:
		query, scan = queryRuntime, scanRuntime
	default:
		return Batch{}, fmt.Errorf("unsupported event kind %s", kind)
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.bindWindow(query), window.Start, window.End)
	if err != nil {
		if isMissingTable(err) {
			return Batch{}, nil
		}
		return Batch{}, fmt.Errorf("%w: query %s: %w", ErrUnavailable, kind, err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	logger := logutil.GetLogger()
	for rows.Next() {
		e, scanErr := scan(rows)
		if scanErr != nil {
			if isValidationError(scanErr) {
				batch.Malformed++
				logger.Debug("skipping malformed row", zap.Stringer("kind", kind), zap.Error(scanErr))
				continue
			}
			return Batch{}, fmt.Errorf("%w: scan %s: %w", ErrUnavailable, kind, scanErr)
		}
		batch.Events = append(batch.Events, e)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, fmt.Errorf("%w: iterate %s: %w", ErrUnavailable, kind, err)
	}
	return batch, nil
}

func (s *sqlSession) Close() error {
	return s.db.Close()
}

// validationError marks rows that were read fine but describe an invalid event.
type validationError struct{ err error }

func (v validationError) Error() string { return v.err.Error() }
func (v validationError) Unwrap() error { return v.err }

func isValidationError(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

func scanKernel(rows *sql.Rows) (trace.Event, error) {
	var (
		start, end, device, stream int64
		gx, gy, gz, bx, by, bz     sql.NullInt64
		name                       sql.NullString
	)
	if err := rows.Scan(&start, &end, &device, &stream, &gx, &gy, &gz, &bx, &by, &bz, &name); err != nil {
		return trace.Event{}, err
	}
	e, err := trace.NewKernel(
		trace.Span{Start: start, End: end, Stream: uint32(stream), Device: uint32(device)},
		trace.KernelData{
			FullName: name.String,
			Grid:     [3]uint32{uint32(gx.Int64), uint32(gy.Int64), uint32(gz.Int64)},
			Block:    [3]uint32{uint32(bx.Int64), uint32(by.Int64), uint32(bz.Int64)},
		},
	)
	if err != nil {
		return trace.Event{}, validationError{err}
	}
	return e, nil
}

func scanMemcpy(rows *sql.Rows) (trace.Event, error) {
	var (
		start, end, device, stream int64
		corr, bytes                int64
		copyKind, srcKind, dstKind int64
	)
	if err := rows.Scan(&start, &end, &device, &stream, &corr, &bytes, &copyKind, &srcKind, &dstKind); err != nil {
		return trace.Event{}, err
	}
	e, err := trace.NewTransfer(
		trace.Span{Start: start, End: end, Stream: uint32(stream), Device: uint32(device)},
		trace.TransferData{
			CorrelationID: uint64(corr),
			Bytes:         bytes,
			Direction:     trace.Direction(copyKind),
			Src:           trace.MemoryKind(srcKind),
			Dst:           trace.MemoryKind(dstKind),
		},
	)
	if err != nil {
		return trace.Event{}, validationError{err}
	}
	return e, nil
}

func scanRuntime(rows *sql.Rows) (trace.Event, error) {
	var (
		start, end, corr int64
		name             sql.NullString
	)
	if err := rows.Scan(&start, &end, &corr, &name); err != nil {
		return trace.Event{}, err
	}
	e, err := trace.NewAPICall(
		trace.Span{Start: start, End: end, Label: name.String},
		trace.APICallData{CorrelationID: uint64(corr)},
	)
	if err != nil {
		return trace.Event{}, validationError{err}
	}
	return e, nil
}

// isMissingTable reports whether err means the export has no such table.
// nsys omits activity tables entirely when a trace has no records of that kind.
func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}
