package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/hermitd/internal/llm"
)

func usage(in, out int) llm.Usage {
	return llm.Usage{Provider: "ollama", Model: "llama3", InputTokens: in, OutputTokens: out}
}

func TestDailyTokens_Observe(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	dt.Observe(context.Background(), usage(100, 200))
	dt.Observe(context.Background(), usage(50, 75))

	input, output, requests := dt.Snapshot()
	if input != 150 {
		t.Errorf("input = %d, want 150", input)
	}
	if output != 275 {
		t.Errorf("output = %d, want 275", output)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestDailyTokens_SatisfiesUsageFunc(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var fn llm.UsageFunc = dt.Observe
	fn(context.Background(), usage(1, 2))

	if in, out, _ := dt.Snapshot(); in != 1 || out != 2 {
		t.Errorf("Snapshot() = (%d, %d), want (1, 2)", in, out)
	}
}

func TestDailyTokens_Snapshot_ZeroInitially(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	input, output, requests := dt.Snapshot()
	if input != 0 || output != 0 || requests != 0 {
		t.Errorf("got (%d, %d, %d), want (0, 0, 0)", input, output, requests)
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.Observe(context.Background(), usage(10, 20))
		}()
	}
	wg.Wait()

	input, output, requests := dt.Snapshot()
	if input != 1000 || output != 2000 || requests != 100 {
		t.Errorf("got (%d, %d, %d), want (1000, 2000, 100)", input, output, requests)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	day := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.now = func() time.Time { return day }
	dt.resetDay = day.YearDay()

	dt.Observe(context.Background(), usage(500, 600))
	if in, _, _ := dt.Snapshot(); in != 500 {
		t.Fatalf("input before midnight = %d, want 500", in)
	}

	day = day.Add(2 * time.Minute)
	input, output, requests := dt.Snapshot()
	if input != 0 || output != 0 || requests != 0 {
		t.Errorf("after midnight got (%d, %d, %d), want zeros", input, output, requests)
	}

	dt.Observe(context.Background(), usage(1, 1))
	if _, _, requests := dt.Snapshot(); requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestDailyTokens_NilLocation(t *testing.T) {
	dt := NewDailyTokens(nil)
	if dt.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
	dt.Observe(context.Background(), usage(1, 1))
	input, _, _ := dt.Snapshot()
	if input != 1 {
		t.Errorf("input = %d, want 1", input)
	}
}
