package worldstate

import (
	"strings"
	"testing"
	"time"
)

func TestParsePlatform(t *testing.T) {
	t.Parallel()
	cases := map[string]Platform{"PC": PC, " ps4 ": PS4, "xbox": XB1, "switch": Switch, "swi": Switch}
	for in, want := range cases {
		got, err := ParsePlatform(in)
		if err != nil || got != want {
			t.Fatalf("ParsePlatform(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePlatform("dreamcast"); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestParsePlatformsDedupAndDefault(t *testing.T) {
	t.Parallel()
	all, err := ParsePlatforms(nil)
	if err != nil || len(all) != 4 {
		t.Fatalf("ParsePlatforms(nil) = %v, %v", all, err)
	}
	got, err := ParsePlatforms([]string{"pc", "PC", "xbox"})
	if err != nil || len(got) != 2 || got[0] != PC || got[1] != XB1 {
		t.Fatalf("ParsePlatforms = %v, %v", got, err)
	}
}

func TestInstantLenientDecode(t *testing.T) {
	t.Parallel()
	snap, err := DecodeBytes([]byte(`{
		"timestamp": "2024-03-01T10:00:00.000Z",
		"alerts": [
			{"id":"a","activation":"2024-03-01T09:59:30.000Z"},
			{"id":"b","activation":null},
			{"id":"c","activation":"yesterday"},
			{"id":"d","activation":1709287170000},
			{"id":"e"}
		]
	}`))
	if err != nil {
		t.Fatalf("DecodeBytes() error: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !snap.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", snap.Timestamp, want)
	}
	if snap.Alerts[0].Activation.IsZero() {
		t.Fatal("alert a should have an activation")
	}
	for _, i := range []int{1, 2, 4} {
		if !snap.Alerts[i].Activation.IsZero() {
			t.Fatalf("alert %s activation = %v, want zero", snap.Alerts[i].ID, snap.Alerts[i].Activation)
		}
	}
	if got := snap.Alerts[3].Activation.UnixMilli(); got != 1709287170000 {
		t.Fatalf("millis activation = %d", got)
	}
}

func TestDecodeRejectsBrokenJSON(t *testing.T) {
	t.Parallel()
	if _, err := Decode(strings.NewReader(`{"alerts": [`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCetusViewDoesNotMutateSnapshot(t *testing.T) {
	t.Parallel()
	bounty := Millis(5_000)
	snap := &Snapshot{
		CetusCycle: &CetusCycle{ID: "c", IsDay: true},
		SyndicateMissions: []SyndicateMission{
			{Syndicate: "Red Veil", Expiry: Millis(1_000)},
			{Syndicate: OstronsSyndicate, Expiry: bounty},
		},
	}
	v, ok := snap.CetusView()
	if !ok {
		t.Fatal("expected a view")
	}
	if !v.BountyExpiry.Equal(bounty.Time) {
		t.Fatalf("bounty expiry = %v", v.BountyExpiry)
	}
	v.Cycle.IsDay = false
	if !snap.CetusCycle.IsDay {
		t.Fatal("view must be a copy")
	}

	if _, ok := (&Snapshot{}).CetusView(); ok {
		t.Fatal("no cycle should yield no view")
	}
}

func TestNightwaveWithChallengesCopies(t *testing.T) {
	t.Parallel()
	nw := Nightwave{Season: 3, ActiveChallenges: []NightwaveChallenge{{ID: "1"}, {ID: "2"}}}
	v := nw.WithChallenges(nw.ActiveChallenges[1])
	if len(v.Nightwave.ActiveChallenges) != 1 || v.Nightwave.ActiveChallenges[0].ID != "2" {
		t.Fatalf("view challenges = %+v", v.Nightwave.ActiveChallenges)
	}
	v.Nightwave.ActiveChallenges[0].ID = "x"
	if nw.ActiveChallenges[1].ID != "2" {
		t.Fatal("source challenges mutated")
	}
}

func TestSyndicateViewMatching(t *testing.T) {
	t.Parallel()
	v := SyndicateView{Display: "Red Veil", Missions: []SyndicateMission{{Syndicate: "Red Veil"}, {Syndicate: "Ostrons"}}}
	if got := v.Matching(); len(got) != 1 {
		t.Fatalf("Matching() = %+v", got)
	}
}
