package schedule

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw   string
		kind  Kind
		every time.Duration
		src   string
		err   bool
	}{
		{raw: "30s", kind: KindInterval, every: 30 * time.Second, src: "duration"},
		{raw: "00:05", kind: KindInterval, every: 5 * time.Minute, src: "hhmm"},
		{raw: "every: 1m", kind: KindInterval, every: time.Minute, src: "duration"},
		{raw: "interval:01:30", kind: KindInterval, every: 90 * time.Minute, src: "hhmm"},
		{raw: "*/30 * * * * *", kind: KindCron, src: "cron"},
		{raw: "@every 1m", kind: KindCron, src: "cron"},
		{raw: "cron:@hourly", kind: KindCron, src: "cron"},
		{raw: "", err: true},
		{raw: "-5s", err: true},
		{raw: "00:61", err: true},
		{raw: "soon", err: true},
		{raw: "cron:", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if tt.err {
				if err == nil {
					t.Fatalf("Parse(%q) = %+v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Source != tt.src {
				t.Fatalf("Parse(%q) = %+v", tt.raw, got)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	sched, _, err := Build("*/30 * * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if next := sched.Next(start); !next.Equal(start.Add(20 * time.Second)) {
		t.Fatalf("next = %v", next)
	}
	if _, _, err := Build("61 * * * *"); err == nil {
		t.Fatal("bad cron accepted")
	}

	every, _, err := Build("1m")
	if err != nil {
		t.Fatal(err)
	}
	imm := Immediately(every)
	if got := imm.Next(start); !got.Equal(start) {
		t.Fatalf("first = %v, want immediate", got)
	}
	if got := imm.Next(start); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("second = %v", got)
	}
}
