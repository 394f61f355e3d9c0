package syno

import (
	"context"
	"fmt"
	"log"
)

// Log types the NAS keeps audit trails for.
const (
	LogTypeSystem      = "system"
	LogTypeFileStation = "filestation"
)

// DefaultPageSize is the window size used by Logs.
const DefaultPageSize = 1000

// Logs retrieves the complete audit log of one type, walking pages of
// DefaultPageSize until the NAS runs out of records.
func (c *Client) Logs(ctx context.Context, logtype string) ([]RawRecord, error) {
	return c.LogsPaged(ctx, logtype, DefaultPageSize)
}

// SystemLogs retrieves the complete system event log.
func (c *Client) SystemLogs(ctx context.Context) ([]RawRecord, error) {
	return c.Logs(ctx, LogTypeSystem)
}

// FileStationLogs retrieves the complete FileStation transfer log.
func (c *Client) FileStationLogs(ctx context.Context) ([]RawRecord, error) {
	return c.Logs(ctx, LogTypeFileStation)
}

// LogsPaged retrieves the complete audit log of one type with a
// caller-chosen page size. Records accumulate in arrival order. A page
// shorter than the window means the listing is exhausted. A page
// longer than the window means the NAS is not honoring the limit, and
// the walk aborts rather than loop forever.
func (c *Client) LogsPaged(ctx context.Context, logtype string, pageSize int) ([]RawRecord, error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("syno logs: page size %d out of range", pageSize)
	}
	var records []RawRecord
	for offset := 0; ; offset += pageSize {
		page, err := c.LogPage(ctx, logtype, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s logs at offset %d: %w", logtype, offset, err)
		}
		if len(page.Items) > pageSize {
			return nil, fmt.Errorf("fetch %s logs at offset %d: %d items exceed limit %d", logtype, offset, len(page.Items), pageSize)
		}
		records = append(records, page.Items...)
		if len(page.Items) < pageSize {
			log.Printf("syno: fetched %d %s log records", len(records), logtype)
			return records, nil
		}
	}
}
