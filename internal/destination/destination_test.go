package destination

import "testing"

func TestIsValid(t *testing.T) {
	cases := []struct {
		to    string
		valid bool
	}{
		{"conductor", true},
		{"broadcast", true},
		{"dashboard", true},
		{"all-agents", true},
		{"agent-1", true},
		{"agent-frontend-specialist", true},
		{"agent-", false},
		{"agent", false},
		{"", false},
		{"Conductor", false},
		{"worker-1", false},
	}
	for _, tc := range cases {
		if got := IsValid(tc.to); got != tc.valid {
			t.Errorf("IsValid(%q) = %v, want %v", tc.to, got, tc.valid)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"broadcast":  KindBroadcast,
		"all-agents": KindBroadcast,
		"conductor":  KindConductor,
		"dashboard":  KindDashboard,
		"agent-9":    KindAgent,
		"agent-":     KindInvalid,
		"nobody":     KindInvalid,
	}
	for to, want := range cases {
		if got := Classify(to); got != want {
			t.Errorf("Classify(%q) = %s, want %s", to, got, want)
		}
	}
}

func TestExtractAgentID(t *testing.T) {
	id, ok := ExtractAgentID("agent-42")
	if !ok || id != "42" {
		t.Fatalf("expected 42, got %q (ok=%v)", id, ok)
	}
	if _, ok := ExtractAgentID("agent-"); ok {
		t.Fatalf("expected empty suffix to be rejected")
	}
	if _, ok := ExtractAgentID("conductor"); ok {
		t.Fatalf("expected conductor to not be an agent destination")
	}
}

func TestAgentDestinationRoundTrip(t *testing.T) {
	for _, agentID := range []string{"1", "ui-expert", "a-b-c"} {
		dest := AgentDestination(agentID)
		got, ok := ExtractAgentID(dest)
		if !ok || got != agentID {
			t.Fatalf("round trip of %q produced %q (ok=%v)", agentID, got, ok)
		}
	}
}

func TestPredicatesAreExclusive(t *testing.T) {
	if IsBroadcast("conductor") || IsConductor("broadcast") || IsDashboard("agent-1") || IsAgent("dashboard") {
		t.Fatalf("expected predicates to be mutually exclusive")
	}
}
