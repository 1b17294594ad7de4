package wsproto

import "testing"

func TestDecodeStrict_RejectsUnknownFields(t *testing.T) {
	var cfg ConfigMessage
	err := DecodeStrict([]byte(`{"type":"config","bogusField":true}`), &cfg)
	if err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestDecodeStrict_AcceptsKnownFields(t *testing.T) {
	var cfg ConfigMessage
	err := DecodeStrict([]byte(`{"type":"config","providers":["wscloud","mock"],"pcm":true,"clientSampleRate":16000}`), &cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != "config" || len(cfg.Providers) != 2 || cfg.ClientSampleRate != 16000 {
		t.Fatalf("decoded config did not match input: %+v", cfg)
	}
}

func TestValidateConfig_PCMRequiresSampleRateInRange(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ConfigMessage
		wantErr bool
	}{
		{"no pcm, no sample rate needed", ConfigMessage{PCM: false}, false},
		{"pcm with valid sample rate", ConfigMessage{PCM: true, ClientSampleRate: 16000}, false},
		{"pcm with lower boundary", ConfigMessage{PCM: true, ClientSampleRate: 8000}, false},
		{"pcm with upper boundary", ConfigMessage{PCM: true, ClientSampleRate: 96000}, false},
		{"pcm below range", ConfigMessage{PCM: true, ClientSampleRate: 7999}, true},
		{"pcm above range", ConfigMessage{PCM: true, ClientSampleRate: 96001}, true},
		{"pcm with zero sample rate", ConfigMessage{PCM: true, ClientSampleRate: 0}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateConfig(c.cfg)
			if c.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
