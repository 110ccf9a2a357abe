// Package slurmdb reads historical job accounting straight from slurmdbd's
// MySQL database. It is the slurm-family alternative to command line
// accounting: one indexed query instead of a slow accounting command.
package slurmdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"gridtrack/config"
	"gridtrack/internal/pkg/job"
	"gridtrack/internal/pkg/model"
)

// slurmdbd job state codes, low byte of the state column; flag bits above.
const (
	stateBase     uint64 = 0x000000ff
	stateComplete uint64 = 3 // completed execution successfully
)

// Client wraps a read-only GORM DB connection for slurmdbd.
type Client struct {
	DB          *gorm.DB
	ClusterName string
	logger      *slog.Logger
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// New creates a read-only GORM Client configured from config.Slurmdb.
func New(cfg config.Slurmdb, logger *slog.Logger) (*Client, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("build dsn", "dsn", dsn)

	gcfg := &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gcfg)
	if err != nil {
		return nil, err
	}

	// Tune the underlying connection pool
	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if d := parseDuration(cfg.ConnMaxLifetime); d > 0 {
			sqlDB.SetConnMaxLifetime(d)
		}
		// Proactive connectivity check with timeout to avoid hanging on unreachable DB
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
	}

	// Enforce read-only at ORM layer
	enforceReadOnly(db)

	return &Client{DB: db, ClusterName: cfg.ClusterName, logger: logger}, nil
}

// buildDSN constructs a DSN string without importing the mysql driver package.
// Format: user:pass@tcp(host:port)/dbname?param=value
func buildDSN(cfg config.Slurmdb) (string, error) {
	// Credentials
	creds := cfg.User
	if cfg.Password != "" {
		// Password may contain special chars; percent-encode conservatively
		// as recommended by go-sql-driver/mysql when needed.
		creds = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
	}

	// Address and database
	addr := fmt.Sprintf("tcp(%s:%d)", cfg.Host, cfg.Port)
	dbname := cfg.Database

	// Params
	params := make([]string, 0, 8)
	if cfg.Charset != "" {
		params = append(params, fmt.Sprintf("charset=%s", cfg.Charset))
	}
	if cfg.ParseTime {
		params = append(params, "parseTime=true")
	} else {
		params = append(params, "parseTime=false")
	}
	if cfg.Loc != "" {
		params = append(params, fmt.Sprintf("loc=%s", url.QueryEscape(cfg.Loc)))
	}
	if cfg.TLS != "" {
		params = append(params, fmt.Sprintf("tls=%s", cfg.TLS))
	}
	// Set conservative timeouts to prevent hangs on connect/read/write
	// See https://github.com/go-sql-driver/mysql#dsn-data-source-name
	params = append(params, "timeout=5s")
	params = append(params, "readTimeout=5s")
	params = append(params, "writeTimeout=5s")

	dsn := fmt.Sprintf("%s@%s/%s", creds, addr, dbname)
	if len(params) > 0 {
		dsn = dsn + "?" + joinParams(params)
	}
	return dsn, nil
}

// parseDuration returns 0 on empty or invalid duration strings.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// joinParams joins DSN parameters with '&'.
func joinParams(params []string) string {
	if len(params) == 0 {
		return ""
	}
	out := params[0]
	for i := 1; i < len(params); i++ {
		out += "&" + params[i]
	}
	return out
}

// Package-level default Client for convenience wiring.
var defaultClient *Client

// SetDefault sets the package-level default slurmdb Client.
func SetDefault(c *Client) { defaultClient = c }

// Default returns the package-level default slurmdb Client.
func Default() *Client { return defaultClient }

// enforceReadOnly installs GORM callbacks that reject write operations and non-read raw SQL.
func enforceReadOnly(db *gorm.DB) {
	block := func(tx *gorm.DB) {
		tx.AddError(errors.New("slurmdb Client is read-only"))
	}
	// Block create/update/delete
	_ = db.Callback().Create().Before("gorm:create").Register("gridtrack:readonly_create", block)
	_ = db.Callback().Update().Before("gorm:update").Register("gridtrack:readonly_update", block)
	_ = db.Callback().Delete().Before("gorm:delete").Register("gridtrack:readonly_delete", block)

	// Block raw/exec that are not read-only
	_ = db.Callback().Raw().Before("gorm:raw").Register("gridtrack:readonly_raw", func(tx *gorm.DB) {
		sql := strings.TrimSpace(tx.Statement.SQL.String())
		up := strings.ToUpper(sql)
		if strings.HasPrefix(up, "SELECT") || strings.HasPrefix(up, "SHOW") || strings.HasPrefix(up, "DESCRIBE") || strings.HasPrefix(up, "EXPLAIN") {
			return
		}
		tx.AddError(errors.New("read-only: raw SQL must be SELECT/SHOW/DESCRIBE/EXPLAIN"))
	})
}

// GetJobRecords queries <ClusterName>_job_table for all historical rows with
// the given scheduler job id, joining <ClusterName>_assoc_table for the
// owning username. Ids recycle, so multiple rows are normal.
func (c *Client) GetJobRecords(ctx context.Context, jobid string) (model.JobRecords, error) {
	if c == nil || c.DB == nil {
		return nil, fmt.Errorf("nil slurmdb Client")
	}
	if strings.TrimSpace(jobid) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(c.ClusterName) == "" {
		return nil, fmt.Errorf("cluster name is empty in slurmdb Client")
	}
	jobTable := fmt.Sprintf("%s_job_table", c.ClusterName)
	assocTable := fmt.Sprintf("%s_assoc_table", c.ClusterName)

	res := make(model.JobRecords, 0)
	err := c.DB.WithContext(ctx).
		Table(jobTable+" AS j").
		Select("j.id_job, j.job_name, j.id_assoc, j.state, j.exit_code, j.time_end, a.`user`").
		Joins(fmt.Sprintf("LEFT JOIN %s AS a ON a.id_assoc = j.id_assoc", assocTable)).
		Where("j.id_job = ?", jobid).
		Order("j.time_end ASC").
		Find(&res).Error
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Records implements job.Accountant by normalizing slurmdbd rows into
// accounting records. Rows still running (time_end = 0) are skipped.
func (c *Client) Records(ctx context.Context, id string) ([]job.AccountingRecord, error) {
	rows, err := c.GetJobRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	records := make([]job.AccountingRecord, 0, len(rows))
	for _, row := range rows {
		if row.TimeEnd == 0 {
			continue
		}
		failed := "1"
		if row.State&stateBase == stateComplete {
			failed = "0"
		}
		records = append(records, job.AccountingRecord{
			"jobnumber":   strconv.FormatUint(row.IDJob, 10),
			"jobname":     row.JobName,
			"owner":       row.User,
			"end_time":    strconv.FormatUint(row.TimeEnd, 10),
			"failed":      failed,
			"exit_status": strconv.FormatInt(row.ExitCode, 10),
		})
	}
	return records, nil
}

// FilterRecords implements job.Accountant. slurmdbd stores end times as unix
// seconds, so age filtering here has none of the locale fragility of textual
// accounting output; a non-numeric end_time is still reported as
// job.ErrEndTimeParse.
func (c *Client) FilterRecords(records []job.AccountingRecord, owner string, maxAgeDays int) ([]job.AccountingRecord, error) {
	remaining := make([]job.AccountingRecord, 0, len(records))
	for _, record := range records {
		if record.Owner() != owner {
			continue
		}
		if maxAgeDays > 0 {
			secs, err := strconv.ParseInt(record["end_time"], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", job.ErrEndTimeParse, record["end_time"], err)
			}
			if time.Since(time.Unix(secs, 0)) > time.Duration(maxAgeDays)*24*time.Hour {
				continue
			}
		}
		remaining = append(remaining, record)
	}
	return remaining, nil
}
