package tracing

import "testing"

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{strategy: SamplerAlways},
		{strategy: SamplerNever},
		{strategy: SamplerRatio, ratio: 0.25},
		{strategy: SamplerRatio, ratio: -0.1, wantErr: true},
		{strategy: SamplerRatio, ratio: 1.5, wantErr: true},
		{strategy: "random", wantErr: true},
	}

	for _, tt := range tests {
		s, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
			continue
		}
		if err == nil && s == nil {
			t.Errorf("createSampler(%q) returned nil sampler", tt.strategy)
		}
	}
}
