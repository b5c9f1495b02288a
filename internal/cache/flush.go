package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// TickPrefix is the key namespace of buffered ticks: tick:<stock_code>:<YYYYMMDD>.
const TickPrefix = "tick"

// TickRow is one archived tick.
type TickRow struct {
	StockCode string
	TickDate  string
	Data      string // JSON object including stock_code and tick_date
}

// TickArchive persists flushed ticks.
type TickArchive interface {
	ArchiveTicks(ctx context.Context, rows []TickRow) error
}

// FlushResult summarizes a flush.
type FlushResult struct {
	Keys    int
	Rows    int
	Skipped int // list items that were not JSON objects
}

// TickKey builds the list key for a stock and day.
func TickKey(stockCode, date string) string {
	return TickPrefix + ":" + stockCode + ":" + date
}

// FlushTicks moves every tick list of date into archive. A key is deleted
// only after its rows were archived.
func (c *Client) FlushTicks(ctx context.Context, date string, archive TickArchive, log *slog.Logger) (FlushResult, error) {
	var res FlushResult
	var keys []string
	iter := c.rdb.Scan(ctx, 0, TickKey("*", date), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return res, fmt.Errorf("scan tick keys: %w", err)
	}
	if len(keys) == 0 {
		log.Info("no tick keys to flush", "date", date)
		return res, nil
	}

	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) < 3 {
			continue
		}
		code := parts[1]
		items, err := c.rdb.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return res, fmt.Errorf("read %s: %w", key, err)
		}
		rows, skipped := decodeTicks(code, date, items)
		res.Skipped += skipped
		if len(rows) > 0 {
			if err := archive.ArchiveTicks(ctx, rows); err != nil {
				return res, fmt.Errorf("archive %s: %w", key, err)
			}
		}
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return res, fmt.Errorf("delete %s: %w", key, err)
		}
		res.Keys++
		res.Rows += len(rows)
		log.Debug("flushed tick key", "key", key, "rows", len(rows))
	}
	return res, nil
}

func decodeTicks(code, date string, items []string) ([]TickRow, int) {
	rows := make([]TickRow, 0, len(items))
	skipped := 0
	for _, item := range items {
		var tick map[string]any
		if err := json.Unmarshal([]byte(item), &tick); err != nil || tick == nil {
			skipped++
			continue
		}
		tick["stock_code"] = code
		tick["tick_date"] = date
		b, err := json.Marshal(tick)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, TickRow{StockCode: code, TickDate: date, Data: string(b)})
	}
	return rows, skipped
}
