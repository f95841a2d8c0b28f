/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "testing"

func TestDeletionTransitionsForwardOnly(t *testing.T) {
	cases := []struct {
		from, to DeletionStatus
		want     bool
	}{
		{DeletionPending, DeletionReminderSent, true},
		{DeletionPending, DeletionExecuting, true},
		{DeletionReminderSent, DeletionWaitingWatcher, true},
		{DeletionWaitingWatcher, DeletionExecuting, true},
		{DeletionWaitingWatcher, DeletionCompleted, true},
		{DeletionExecuting, DeletionCompleted, true},
		{DeletionExecuting, DeletionFailed, true},

		// no state re-enters pending
		{DeletionReminderSent, DeletionPending, false},
		{DeletionExecuting, DeletionPending, false},
		{DeletionCompleted, DeletionPending, false},
		// no moving backwards
		{DeletionExecuting, DeletionWaitingWatcher, false},
		{DeletionWaitingWatcher, DeletionReminderSent, false},
		// terminal states are final
		{DeletionCompleted, DeletionExecuting, false},
		{DeletionFailed, DeletionCompleted, false},
		{DeletionCancelled, DeletionExecuting, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCancelledReachableFromNonTerminalOnly(t *testing.T) {
	nonTerminal := []DeletionStatus{
		DeletionPending, DeletionReminderSent, DeletionWaitingWatcher, DeletionExecuting,
	}
	for _, s := range nonTerminal {
		if !s.CanTransition(DeletionCancelled) {
			t.Errorf("%s must be cancellable", s)
		}
	}
	for _, s := range []DeletionStatus{DeletionCompleted, DeletionFailed, DeletionCancelled} {
		if s.CanTransition(DeletionCancelled) {
			t.Errorf("%s must not be cancellable", s)
		}
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestRequiresHardlink(t *testing.T) {
	del := &ScheduledDeletion{}
	if del.RequiresHardlink() {
		t.Error("no target volume must not require a hardlink step")
	}
	target := "vol2"
	del.HardlinkTargetVolumeID = &target
	if !del.RequiresHardlink() {
		t.Error("a target volume must require the hardlink step")
	}
}
