package roles

import "testing"

func TestHolds(t *testing.T) {
	assignments := []Assignment{
		{UserID: "u2", RoleName: RoleScribe},
		{UserID: "u3", RoleName: RoleHistorian},
	}

	cases := []struct {
		name     string
		viewerID string
		role     Role
		want     bool
	}{
		{"creator holds every role", "u1", RoleModerator, true},
		{"scribe holds scribe", "u2", RoleScribe, true},
		{"scribe does not hold historian", "u2", RoleHistorian, false},
		{"historian holds historian", "u3", RoleHistorian, true},
		{"plain member holds nothing", "u4", RoleScribe, false},
		{"anonymous holds nothing", "", RoleScribe, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Holds(assignments, "u1", tc.viewerID, tc.role); got != tc.want {
				t.Fatalf("Holds(%q, %v) = %v, want %v", tc.viewerID, tc.role, got, tc.want)
			}
		})
	}
}

func TestCanManage(t *testing.T) {
	if !CanManage("u1", "u1") {
		t.Fatal("creator should manage")
	}
	if CanManage("u1", "u2") {
		t.Fatal("member should not manage")
	}
	if CanManage("", "") {
		t.Fatal("anonymous should never manage")
	}
}

func TestKnown(t *testing.T) {
	for _, role := range []Role{RoleModerator, RoleScribe, RoleHistorian} {
		if !Known(role) {
			t.Fatalf("expected %v to be known", role)
		}
	}
	if Known("Concierge") {
		t.Fatal("unexpected role accepted")
	}
}

func TestJournalAndHistoryGates(t *testing.T) {
	assignments := []Assignment{{UserID: "u2", RoleName: RoleScribe}}

	if !CanWriteJournal(assignments, "u1", "u2") {
		t.Fatal("scribe should write journal")
	}
	if CanWriteHistory(assignments, "u1", "u2") {
		t.Fatal("scribe should not write history")
	}
	if !CanWriteJournal(nil, "u1", "u1") || !CanWriteHistory(nil, "u1", "u1") {
		t.Fatal("creator should write both even with no assignments")
	}
}
