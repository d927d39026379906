package report

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/bluemesh/tracestore"
)

func newStore(t *testing.T) *tracestore.Store {
	t.Helper()
	s, err := tracestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *tracestore.Store, origin string, reached ...string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now()
	if err := s.RecordSend(tracestore.Send{MessageID: id, Origin: origin, Text: "hi", TimeToLive: 15, SentAt: now}); err != nil {
		t.Fatal(err)
	}
	for i, node := range reached {
		err := s.RecordDelivery(tracestore.Delivery{
			MessageID:  id,
			Node:       node,
			From:       origin,
			ReceivedAt: now.Add(time.Duration(i+1) * 10 * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func TestBuild_FullCoverage(t *testing.T) {
	s := newStore(t)
	nodes := []string{"a", "b", "c"}
	record(t, s, "a", "b", "c")
	record(t, s, "c", "a", "b")

	r, err := Build(s, nodes)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(r.Issues) != 0 {
		t.Errorf("Expected no issues, got %+v", r.Issues)
	}
	if r.Expected() != 4 || r.Delivered() != 4 {
		t.Errorf("Expected 4/4 deliveries, got %d/%d", r.Delivered(), r.Expected())
	}

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Full Coverage") {
		t.Errorf("Expected full coverage banner, got:\n%s", out)
	}
	if !strings.Contains(out, "**Coverage:** 100.0%") {
		t.Errorf("Expected 100%% coverage, got:\n%s", out)
	}
}

func TestBuild_MissingAndDuplicate(t *testing.T) {
	s := newStore(t)
	id := record(t, s, "a", "b")
	// Second receipt of the same message by b
	s.RecordDelivery(tracestore.Delivery{MessageID: id, Node: "b", From: "c", ReceivedAt: time.Now()})

	r, err := Build(s, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if r.Errors() != 1 {
		t.Fatalf("Expected 1 error, got %+v", r.Issues)
	}
	if r.Issues[0].Node != "c" {
		t.Errorf("Expected c to be missing, got %s", r.Issues[0].Node)
	}
	if len(r.Issues) != 2 || r.Issues[1].Severity != "WARNING" {
		t.Errorf("Expected a duplicate warning, got %+v", r.Issues)
	}

	var buf bytes.Buffer
	r.Render(&buf)
	if !strings.Contains(buf.String(), "❌ MISSING") {
		t.Errorf("Expected MISSING cell in matrix:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "**Coverage:** 50.0%") {
		t.Errorf("Expected 50%% coverage:\n%s", buf.String())
	}
}

func TestBuild_OriginDelivered(t *testing.T) {
	s := newStore(t)
	record(t, s, "a", "a", "b")

	r, err := Build(s, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if r.Errors() != 1 || r.Issues[0].Node != "a" {
		t.Errorf("Expected self-delivery error for a, got %+v", r.Issues)
	}
}

func TestRender_Empty(t *testing.T) {
	r, err := Build(newStore(t), []string{"a"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	var buf bytes.Buffer
	r.Render(&buf)
	if !strings.Contains(buf.String(), "No messages were sent.") {
		t.Errorf("unexpected render:\n%s", buf.String())
	}
}

func TestWriteFile(t *testing.T) {
	s := newStore(t)
	record(t, s, "a", "b")
	r, _ := Build(s, []string{"a", "b"})

	path, err := r.WriteFile(t.TempDir())
	if err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Mesh Coverage Report") {
		t.Errorf("unexpected report file:\n%s", data)
	}
}
