package main

import "testing"

// TestValidatePrecision covers the accepted choices and the rejection of
// anything else.
func TestValidatePrecision(t *testing.T) {
	for _, ok := range []string{"no", "fp16", "bf16", "fp8"} {
		if err := validatePrecision(ok); err != nil {
			t.Errorf("validatePrecision(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "fp32", "yes", "FP16"} {
		if err := validatePrecision(bad); err == nil {
			t.Errorf("validatePrecision(%q) accepted, want error", bad)
		}
	}
}
