package staterequest

import "testing"

func TestTrialModeConfigValidate(t *testing.T) {
	if err := (TrialModeConfig{Enabled: false, ReqFailureProbability: 5}).validate(); err != nil {
		t.Errorf("expected a disabled trial mode to skip validation, got %v", err)
	}
	if err := (TrialModeConfig{Enabled: true, ReqFailureProbability: 0.5}).validate(); err != nil {
		t.Errorf("expected 0.5 to be valid, got %v", err)
	}
	if err := (TrialModeConfig{Enabled: true, ReqFailureProbability: 1.5}).validate(); err == nil {
		t.Errorf("expected a probability above 1 to fail validation")
	}
	if err := (TrialModeConfig{Enabled: true, ReqFailureProbability: -0.1}).validate(); err == nil {
		t.Errorf("expected a negative probability to fail validation")
	}
}
