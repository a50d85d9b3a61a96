package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLogAppend_OrderAndSeq(t *testing.T) {
	log := NewLog(nil)
	log.Append("g1", "first", SeverityInfo)
	log.Append("g2", "second", SeverityError)
	log.Append("g1", "third", "")

	entries := log.Entries("")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Seq != i {
			t.Errorf("entry %d has seq %d", i, entry.Seq)
		}
	}
	if entries[2].Severity != SeverityInfo {
		t.Errorf("empty severity should default to info, got %s", entries[2].Severity)
	}

	g1 := log.Entries("g1")
	if len(g1) != 2 || g1[0].Message != "first" || g1[1].Message != "third" {
		t.Fatalf("unexpected g1 entries: %+v", g1)
	}
}

func TestLogAppend_ConcurrentWritersKeepEveryEntry(t *testing.T) {
	log := NewLog(nil)

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				log.Append(fmt.Sprintf("g%d", w), fmt.Sprintf("msg-%d", i), SeverityInfo)
			}
		}(w)
	}
	wg.Wait()

	if log.Len() != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, log.Len())
	}

	seen := make(map[int]bool)
	for _, entry := range log.Entries("") {
		if seen[entry.Seq] {
			t.Fatalf("duplicate seq %d", entry.Seq)
		}
		seen[entry.Seq] = true
	}
	for w := 0; w < writers; w++ {
		if got := len(log.Entries(fmt.Sprintf("g%d", w))); got != perWriter {
			t.Errorf("group g%d lost entries: got %d want %d", w, got, perWriter)
		}
	}
}

func TestLogSubscribe_ReceivesAppends(t *testing.T) {
	log := NewLog(nil)
	ch, cancel := log.Subscribe(4)
	defer cancel()

	log.Append("g", "hello", SeverityInfo)

	select {
	case entry := <-ch:
		if entry.Message != "hello" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive entry")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Record(entry Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

func TestLogAppend_ForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	log := NewLog(sink)
	log.Append("g", "hello", SeveritySuccess)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 1 || sink.entries[0].Message != "hello" {
		t.Fatalf("sink did not receive entry: %+v", sink.entries)
	}
}

func TestFinalize_AppendsClosingLines(t *testing.T) {
	log := NewLog(nil)
	log.Append("g", "work", SeverityInfo)
	log.Finalize("[session]", Summary{Duration: 1500 * time.Millisecond})

	entries := log.Entries("")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Message != "End session!" {
		t.Errorf("unexpected closing line: %q", entries[1].Message)
	}
	if entries[2].Message != "Execution time: 1500 ms" {
		t.Errorf("unexpected timing line: %q", entries[2].Message)
	}
	if entries[2].Severity != SeveritySuccess {
		t.Errorf("timing line severity: %s", entries[2].Severity)
	}
}
