package journal

import (
	"testing"
	"time"
)

func TestAppendAndRecent(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer j.Close()

	records := []Record{
		{Op: "diff", Outcome: "ok", InputBytes: 100, OutputBytes: 40},
		{Op: "patch", Outcome: "ok", InputBytes: 140, OutputBytes: 100},
		{Op: "patch", Outcome: "failed", Error: "corrupt data", InputBytes: 10},
	}
	for _, rec := range records {
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(recent))
	}
	if recent[0].Seq != 3 || recent[1].Seq != 2 {
		t.Errorf("Recent() order = [%d, %d], want [3, 2]", recent[0].Seq, recent[1].Seq)
	}
	if recent[0].Outcome != "failed" || recent[0].Error != "corrupt data" {
		t.Errorf("newest record = %+v, want the failed patch", recent[0])
	}
	if recent[0].Timestamp == 0 {
		t.Error("Append() did not stamp the record")
	}
}

func TestRecentLimits(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if recs, err := j.Recent(5); err != nil || len(recs) != 0 {
		t.Errorf("Recent() on empty journal = %v, %v", recs, err)
	}
	if recs, err := j.Recent(0); err != nil || recs != nil {
		t.Errorf("Recent(0) = %v, %v", recs, err)
	}
}

func TestSequencePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := j.Append(Record{Op: "diff", Outcome: "ok", Timestamp: time.Now().UnixNano()}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Append(Record{Op: "patch", Outcome: "ok"}); err != nil {
		t.Fatal(err)
	}

	recent, err := j.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Seq != 4 {
		t.Errorf("sequence after reopen = %+v, want Seq 4", recent)
	}
}

func TestCID(t *testing.T) {
	a, err := CID([]byte("same content"))
	if err != nil {
		t.Fatalf("CID() error = %v", err)
	}
	b, err := CID([]byte("same content"))
	if err != nil {
		t.Fatalf("CID() error = %v", err)
	}
	c, err := CID([]byte("other content"))
	if err != nil {
		t.Fatalf("CID() error = %v", err)
	}

	if a == "" {
		t.Fatal("CID() returned an empty identifier")
	}
	if a != b {
		t.Error("CID() is not deterministic")
	}
	if a == c {
		t.Error("CID() collided on different content")
	}
}
