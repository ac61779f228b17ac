package domain

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestJobMarshalIncludesZeroPosition(t *testing.T) {
	job := Job{ID: "j1", Title: "Backend Engineer", Company: "Acme", Status: StatusApplied, Position: 0}

	payload, err := sonic.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}

	if !strings.Contains(string(payload), "\"position\":0") {
		t.Fatalf("expected position field to be present, got %s", payload)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"applied":     StatusApplied,
		" Interview ": StatusInterview,
		"OFFER":       StatusOffer,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParseStatus("withdrawn"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestFieldWriteEmpty(t *testing.T) {
	if !(FieldWrite{ID: "j1"}).Empty() {
		t.Fatal("expected write without fields to be empty")
	}
	pos := 2
	if (FieldWrite{ID: "j1", Position: &pos}).Empty() {
		t.Fatal("expected write with position to be non-empty")
	}
}

func TestActivityEventEncode(t *testing.T) {
	ev := ActivityEvent{OwnerID: "u1", Type: ActivityCardsMoved, JobIDs: []string{"a", "b"}, Version: 7, Time: 9}
	body, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded ActivityEvent
	if err := sonic.UnmarshalString(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != ActivityCardsMoved || len(decoded.JobIDs) != 2 || decoded.Version != 7 {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}
