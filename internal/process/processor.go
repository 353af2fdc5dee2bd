// Package process validates, groups, and orders scanned records by tenant.
package process

import (
	"sort"

	"go.uber.org/zap"

	"github.com/eventmill/eventmill/pkg/types"
)

// topClientsLogged caps how many per-tenant counts the summary log lists.
const topClientsLogged = 5

// Processor partitions scanned records into per-tenant groups.
type Processor struct {
	log *zap.Logger
}

// NewProcessor creates a record processor.
func NewProcessor(log *zap.Logger) *Processor {
	return &Processor{log: log}
}

// Process validates the records, groups the valid ones by client, and sorts
// each group ascending by timestamp. Invalid records (missing any of the
// three required attributes) are dropped and counted, never emitted. Empty
// input yields an empty map and zero-valued stats.
//
// Ordering within a group compares timestamps as strings, which is correct
// only while the producer writes a uniform zero-padded UTC format. The sort
// is stable, so records with equal timestamps keep their relative input
// order.
func (p *Processor) Process(records []types.Record) (map[string][]types.Record, *types.ProcessingStats) {
	stats := &types.ProcessingStats{
		TotalEvents:     len(records),
		EventsPerClient: make(map[string]int),
	}

	groups := make(map[string][]types.Record)
	for _, r := range records {
		if !r.Valid() {
			stats.InvalidEvents++
			p.log.Debug("dropping invalid event",
				zap.String("event_id", r.EventID),
				zap.String("client_id", r.ClientID))
			continue
		}
		stats.ValidEvents++
		groups[r.ClientID] = append(groups[r.ClientID], r)
	}

	if stats.InvalidEvents > 0 {
		p.log.Warn("filtered out invalid events", zap.Int("count", stats.InvalidEvents))
	}

	for clientID, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Time < group[j].Time
		})
		stats.EventsPerClient[clientID] = len(group)
	}
	stats.UniqueClients = len(groups)

	p.logStats(stats)
	return groups, stats
}

// logStats logs aggregate counts and the busiest clients.
func (p *Processor) logStats(stats *types.ProcessingStats) {
	p.log.Info("processing statistics",
		zap.Int("total_events", stats.TotalEvents),
		zap.Int("valid_events", stats.ValidEvents),
		zap.Int("unique_clients", stats.UniqueClients))

	if len(stats.EventsPerClient) == 0 {
		return
	}

	type clientCount struct {
		clientID string
		count    int
	}
	top := make([]clientCount, 0, len(stats.EventsPerClient))
	for clientID, count := range stats.EventsPerClient {
		top = append(top, clientCount{clientID, count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].count != top[j].count {
			return top[i].count > top[j].count
		}
		return top[i].clientID < top[j].clientID
	})
	if len(top) > topClientsLogged {
		top = top[:topClientsLogged]
	}
	for _, c := range top {
		p.log.Info("top client by event count",
			zap.String("client_id", c.clientID),
			zap.Int("events", c.count))
	}
}
