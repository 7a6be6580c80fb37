package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func statsFrom(stat *pgxpool.Stat) PoolStats {
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type statter interface {
	Stat() *pgxpool.Stat
}

// HealthHandler reports 200 when the database answers a ping within five
// seconds and 503 otherwise. Pool statistics are included when available.
func HealthHandler(pool Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		if sp, ok := pool.(statter); ok {
			body["pool"] = statsFrom(sp.Stat())
		}

		if err := pool.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}

// PoolCollector exports pgxpool statistics to prometheus.
type PoolCollector struct {
	stat func() *pgxpool.Stat

	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
	waitSecs *prometheus.Desc
}

func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	return newPoolCollector(pool.Stat)
}

func newPoolCollector(stat func() *pgxpool.Stat) *PoolCollector {
	return &PoolCollector{
		stat:     stat,
		total:    prometheus.NewDesc("db_pool_total_conns", "Connections currently open.", nil, nil),
		idle:     prometheus.NewDesc("db_pool_idle_conns", "Idle connections.", nil, nil),
		acquired: prometheus.NewDesc("db_pool_acquired_conns", "Connections checked out.", nil, nil),
		max:      prometheus.NewDesc("db_pool_max_conns", "Configured pool size.", nil, nil),
		acquires: prometheus.NewDesc("db_pool_acquires_total", "Successful acquires.", nil, nil),
		waitSecs: prometheus.NewDesc("db_pool_acquire_seconds_total", "Time spent acquiring connections.", nil, nil),
	}
}

func (pc *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.total
	ch <- pc.idle
	ch <- pc.acquired
	ch <- pc.max
	ch <- pc.acquires
	ch <- pc.waitSecs
}

func (pc *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := pc.stat()
	ch <- prometheus.MustNewConstMetric(pc.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(pc.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(pc.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(pc.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(pc.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(pc.waitSecs, prometheus.CounterValue, s.AcquireDuration().Seconds())
}
