package model

import "testing"

func TestRiskLevelExceeds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		r     RiskLevel
		other RiskLevel
		want  bool
	}{
		{name: "high exceeds medium", r: RiskLevelHigh, other: RiskLevelMedium, want: true},
		{name: "medium does not exceed high", r: RiskLevelMedium, other: RiskLevelHigh, want: false},
		{name: "equal does not exceed", r: RiskLevelMedium, other: RiskLevelMedium, want: false},
		{name: "critical exceeds everything", r: RiskLevelCritical, other: RiskLevelHigh, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Exceeds(tc.other); got != tc.want {
				t.Fatalf("Exceeds() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDefaultGuardrailConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultGuardrailConfig()
	if cfg.MaxIterations <= 0 || cfg.MaxToolCalls <= 0 || cfg.MaxTokens <= 0 || cfg.MaxWallTimeSeconds <= 0 {
		t.Fatalf("DefaultGuardrailConfig() has a non-positive bound: %+v", cfg)
	}
	if cfg.AutoApproveRisk != RiskLevelMedium {
		t.Fatalf("AutoApproveRisk = %v, want medium", cfg.AutoApproveRisk)
	}
}
