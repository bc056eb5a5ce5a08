package database

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/pricefeed/internal/config"
)

// ApplicationName tags recorder sessions in pg_stat_activity.
const ApplicationName = "pricefeed-recorder"

// BuildConnString builds a pgxpool connection string from config. Pool sizing
// rides along as pool_max_conns / pool_min_conns so pgxpool.ParseConfig picks
// it up; zero leaves the pgxpool default.
func BuildConnString(cfg config.DBConfig) string {
	q := url.Values{}
	q.Set("application_name", ApplicationName)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q.Set("sslmode", sslMode)

	if cfg.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		q.Set("pool_min_conns", strconv.Itoa(cfg.MinConns))
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		q.Encode(),
	)
}
