package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("record with future ttl must not be expired")
	}
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatal("record with ttl equal to now must be expired")
	}
}

func TestIdempotencyRecordReplayable(t *testing.T) {
	tests := []struct {
		name   string
		record IdempotencyRecord
		want   bool
	}{
		{name: "processing", record: IdempotencyRecord{Status: IdempotencyStatusProcessing, ResponseBody: []byte("{}")}, want: false},
		{name: "done", record: IdempotencyRecord{Status: IdempotencyStatusDone, ResponseBody: []byte("{}")}, want: true},
		{name: "failed with body", record: IdempotencyRecord{Status: IdempotencyStatusFailed, ResponseBody: []byte("{}")}, want: true},
		{name: "done without body", record: IdempotencyRecord{Status: IdempotencyStatusDone}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.record.Replayable(); got != tc.want {
				t.Fatalf("replayable=%v, want %v", got, tc.want)
			}
		})
	}
}
