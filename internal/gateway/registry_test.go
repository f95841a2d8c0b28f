/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"testing"
)

func TestBindReplacesPreviousConnection(t *testing.T) {
	r := NewRegistry()
	first := NewConn("c1", "10.0.0.1:1")
	second := NewConn("c2", "10.0.0.1:2")
	r.Add(first)
	r.Add(second)

	if prev := r.Bind(first, "w1"); prev != nil {
		t.Fatalf("first bind returned previous %v", prev.ID)
	}
	prev := r.Bind(second, "w1")
	if prev != first {
		t.Fatalf("second bind returned %v, want the first connection", prev)
	}

	current, ok := r.ByWatcher("w1")
	if !ok || current != second {
		t.Error("watcher must map to the newest connection")
	}
}

func TestRemoveReportsCurrentBinding(t *testing.T) {
	r := NewRegistry()
	first := NewConn("c1", "10.0.0.1:1")
	second := NewConn("c2", "10.0.0.1:2")
	r.Add(first)
	r.Add(second)
	r.Bind(first, "w1")
	r.Bind(second, "w1")

	if id, wasCurrent := r.Remove(first); wasCurrent {
		t.Errorf("replaced connection reported as current (watcher %s)", id)
	}
	if id, wasCurrent := r.Remove(second); !wasCurrent || id != "w1" {
		t.Errorf("Remove(current) = (%s, %v), want (w1, true)", id, wasCurrent)
	}
	if _, ok := r.ByWatcher("w1"); ok {
		t.Error("watcher binding must be gone after removing the current connection")
	}
}

func TestSendAfterClose(t *testing.T) {
	c := NewConn("c1", "10.0.0.1:1")
	c.Close()
	c.Close() // idempotent

	if err := c.Send([]byte("{}")); err != ErrConnClosed {
		t.Errorf("Send after close = %v, want ErrConnClosed", err)
	}
}

func TestSendBufferFull(t *testing.T) {
	c := NewConn("c1", "10.0.0.1:1")
	for i := 0; i < sendBufferSize; i++ {
		if err := c.Send([]byte("{}")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send([]byte("{}")); err != ErrSendBufferFull {
		t.Errorf("overflow send = %v, want ErrSendBufferFull", err)
	}
}

func TestSnapshotIncludesUnauthenticated(t *testing.T) {
	r := NewRegistry()
	a := NewConn("c1", "10.0.0.1:1")
	b := NewConn("c2", "10.0.0.1:2")
	r.Add(a)
	r.Add(b)
	r.Bind(b, "w1")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	authed := 0
	for _, info := range snap {
		if info.Authed {
			authed++
			if info.WatcherID != "w1" {
				t.Errorf("authenticated entry carries watcher %q", info.WatcherID)
			}
		}
	}
	if authed != 1 {
		t.Errorf("snapshot shows %d authenticated connections, want 1", authed)
	}
}
