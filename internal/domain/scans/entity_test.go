package scans

import "testing"

func TestVerificationTransitions(t *testing.T) {
	cases := []struct {
		from, to VerificationStatus
		want     bool
	}{
		{VerificationUnverified, VerificationPending, true},
		{VerificationPending, VerificationVerified, true},
		{VerificationPending, VerificationFailed, true},
		{VerificationFailed, VerificationPending, true},
		{VerificationVerified, VerificationPending, true},
		{VerificationPending, VerificationPending, true}, // interrupted workflow restarts
		{VerificationPending, VerificationUnverified, true},

		{VerificationUnverified, VerificationVerified, false},
		{VerificationUnverified, VerificationFailed, false},
		{VerificationVerified, VerificationFailed, false},
		{VerificationFailed, VerificationVerified, false},
		{VerificationVerified, VerificationUnverified, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsThreat(t *testing.T) {
	if CategorySafe.IsThreat() {
		t.Error("SAFE must not count as a threat")
	}
	for _, c := range []RiskCategory{CategorySuspicious, CategoryScam, CategoryDeepfake} {
		if !c.IsThreat() {
			t.Errorf("%s must count as a threat", c)
		}
	}
}
