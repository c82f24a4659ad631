package paper

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"volumebot-go/internal/signal"
)

func TestJSONLRecorder(t *testing.T) {
	tmp := t.TempDir()
	path := tmp + "/orders.jsonl"

	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	o := activeBuy("g1")
	o.close(d("89"), opened.Add(time.Minute), ReasonStop)
	recorder.Record(o)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	recorder.Record(o)

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded Order
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.GroupID != "g1" || decoded.Direction != signal.Buy || decoded.Status != Closed || decoded.Reason != ReasonStop {
		t.Fatalf("unexpected decoded order %+v", decoded)
	}
	if !decoded.Result.Equal(d("-11")) {
		t.Fatalf("unexpected result %s", decoded.Result)
	}
	if scanner.Scan() {
		t.Fatalf("records after Close must be dropped")
	}
}
