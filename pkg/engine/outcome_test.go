package engine

import (
	"encoding/json"
	"testing"
)

func TestOutcomeTruthiness(t *testing.T) {
	cases := []struct {
		name    string
		outcome Outcome
		want    bool
	}{
		{"success", Success(), true},
		{"failure", Failure(), false},
		{"zero", Outcome{}, false},
		{"answer", Answer("no"), true},
		{"empty answer", Answer(""), false},
		{"description", Describe("Changed %d files", 0), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.outcome.Truthy(); got != tc.want {
				t.Errorf("Truthy() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStateJSONShape(t *testing.T) {
	s := NewState()
	s.Complete["apt-update"] = Success()
	s.Complete["git-mirror"] = Answer("https://example.com")
	s.Counter = 2

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"complete":{"apt-update":true,"git-mirror":"https://example.com"},"counter":2,"kwargs":{},"kwargs_version":0,"tested":{}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}

	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Complete["git-mirror"].Text() != "https://example.com" || !back.Complete["apt-update"].Truthy() {
		t.Errorf("decoded complete = %v", back.Complete)
	}
}

func TestOutcomeRejectsNumbers(t *testing.T) {
	var o Outcome
	if err := json.Unmarshal([]byte("42"), &o); err == nil {
		t.Errorf("expected an error decoding a number")
	}
}

func TestStepString(t *testing.T) {
	s := &Step{Name: "apt-upgrade", Depends: "apt-update"}
	if s.String() != "step apt-upgrade, depends on apt-update" {
		t.Errorf("got %q", s.String())
	}
	s.Depends = ""
	if s.String() != "step apt-upgrade, depends on None" {
		t.Errorf("got %q", s.String())
	}
}

func TestNewStepValidation(t *testing.T) {
	if _, err := NewStep("", ActionFunc(nil), fastRetries); !IsPermanent(err) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err := NewStep("a", nil, fastRetries); !IsPermanent(err) {
		t.Errorf("expected validation error for nil action, got %v", err)
	}
}
