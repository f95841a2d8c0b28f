/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"fmt"
	"testing"
	"time"
)

func TestRingOverwritesOldest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(Entry{Message: fmt.Sprintf("m%d", i)})
	}

	all := b.All()
	if len(all) != 3 {
		t.Fatalf("buffered %d entries, want 3", len(all))
	}
	if all[0].Message != "m2" || all[2].Message != "m4" {
		t.Errorf("unexpected order: %v %v %v", all[0].Message, all[1].Message, all[2].Message)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	base := time.Now()
	b.Add(Entry{Timestamp: base, WatcherID: "w1", Level: "info", Message: "scan started"})
	b.Add(Entry{Timestamp: base.Add(time.Second), WatcherID: "w1", Level: "error", Message: "delete failed"})
	b.Add(Entry{Timestamp: base.Add(2 * time.Second), WatcherID: "w2", Level: "info", Message: "scan started"})

	got := b.Query(QueryParams{WatcherID: "w1"})
	if len(got) != 2 {
		t.Errorf("watcher filter: %d entries, want 2", len(got))
	}
	got = b.Query(QueryParams{Level: "error"})
	if len(got) != 1 || got[0].Message != "delete failed" {
		t.Errorf("level filter: %v", got)
	}
	got = b.Query(QueryParams{Search: "SCAN"})
	if len(got) != 2 {
		t.Errorf("search must be case-insensitive: %d entries, want 2", len(got))
	}
	got = b.Query(QueryParams{Since: base.Add(time.Second)})
	if len(got) != 2 {
		t.Errorf("since filter: %d entries, want 2", len(got))
	}
	got = b.Query(QueryParams{Descending: true, Limit: 1})
	if len(got) != 1 || got[0].WatcherID != "w2" {
		t.Errorf("descending limit must return the newest entry: %v", got)
	}
}

func TestStatsPerWatcher(t *testing.T) {
	b := New(10)
	b.Add(Entry{WatcherID: "w1", Level: "info"})
	b.Add(Entry{WatcherID: "w1", Level: "error"})
	b.Add(Entry{WatcherID: "w2", Level: "info"})

	stats := b.Stats("w1")
	if stats.Count != 2 || stats.LevelCount["error"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	b.Clear()
	if len(b.All()) != 0 {
		t.Error("clear must empty the buffer")
	}
}
