package process

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/eventmill/eventmill/pkg/types"
)

func record(eventID, clientID, ts string) types.Record {
	return types.Record{EventID: eventID, ClientID: clientID, Time: ts}
}

func TestProcess_GroupsAndDropsInvalid(t *testing.T) {
	// 100 records across 3 clients, one missing its client and one missing
	// its event ID: exactly 3 groups whose counts sum to 98.
	var records []types.Record
	for i := 0; i < 98; i++ {
		clientID := fmt.Sprintf("client-%03d", i%3+1)
		records = append(records, record(
			fmt.Sprintf("evt-%03d", i),
			clientID,
			fmt.Sprintf("2025-03-01T10:%02d:00+00:00", i%60),
		))
	}
	records = append(records, record("evt-no-client", "", "2025-03-01T10:00:00+00:00"))
	records = append(records, record("", "client-001", "2025-03-01T10:00:00+00:00"))

	p := NewProcessor(zap.NewNop())
	groups, stats := p.Process(records)

	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != 98 {
		t.Errorf("group counts sum to %d, want 98", total)
	}
	if stats.TotalEvents != 100 || stats.ValidEvents != 98 || stats.InvalidEvents != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.UniqueClients != 3 {
		t.Errorf("unique clients = %d, want 3", stats.UniqueClients)
	}
}

func TestProcess_SortsByTimestampString(t *testing.T) {
	records := []types.Record{
		record("e3", "client-001", "2025-03-01T12:00:00+00:00"),
		record("e1", "client-001", "2025-03-01T10:00:00+00:00"),
		record("e2", "client-001", "2025-03-01T11:00:00+00:00"),
	}

	p := NewProcessor(zap.NewNop())
	groups, _ := p.Process(records)

	got := groups["client-001"]
	for i := 1; i < len(got); i++ {
		if got[i-1].Time > got[i].Time {
			t.Errorf("group not sorted at %d: %s > %s", i, got[i-1].Time, got[i].Time)
		}
	}
	if got[0].EventID != "e1" || got[2].EventID != "e3" {
		t.Errorf("unexpected order: %s, %s, %s", got[0].EventID, got[1].EventID, got[2].EventID)
	}
}

func TestProcess_StableOnEqualTimestamps(t *testing.T) {
	// Equal timestamps must keep their relative input order.
	const ts = "2025-03-01T10:00:00+00:00"
	records := []types.Record{
		record("first", "client-001", ts),
		record("second", "client-001", ts),
		record("third", "client-001", ts),
	}

	p := NewProcessor(zap.NewNop())
	groups, _ := p.Process(records)

	got := groups["client-001"]
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if got[i].EventID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].EventID, id)
		}
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	p := NewProcessor(zap.NewNop())
	groups, stats := p.Process(nil)

	if len(groups) != 0 {
		t.Errorf("expected empty mapping, got %d groups", len(groups))
	}
	if stats.TotalEvents != 0 || stats.ValidEvents != 0 || stats.UniqueClients != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestProperty_ProcessPreservesValidCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genRecord := gopter.CombineGens(
		gen.AlphaString(),
		gen.OneConstOf("client-001", "client-002", "client-003", ""),
		gen.IntRange(0, 59),
	).Map(func(vals []interface{}) types.Record {
		return types.Record{
			EventID:  vals[0].(string),
			ClientID: vals[1].(string),
			Time:     fmt.Sprintf("2025-03-01T10:%02d:00+00:00", vals[2].(int)),
		}
	})

	properties.Property("group sizes sum to the valid record count", prop.ForAll(
		func(records []types.Record) bool {
			valid := 0
			for _, r := range records {
				if r.Valid() {
					valid++
				}
			}

			groups, stats := NewProcessor(zap.NewNop()).Process(records)
			total := 0
			for _, g := range groups {
				total += len(g)
			}
			return total == valid && stats.ValidEvents == valid
		},
		gen.SliceOf(genRecord),
	))

	properties.Property("every group is non-decreasing by timestamp", prop.ForAll(
		func(records []types.Record) bool {
			groups, _ := NewProcessor(zap.NewNop()).Process(records)
			for _, g := range groups {
				for i := 1; i < len(g); i++ {
					if g[i-1].Time > g[i].Time {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genRecord),
	))

	properties.TestingRun(t)
}
