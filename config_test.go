package autoprobe_test

import (
	"testing"

	"github.com/cirruscomms/autoprobe"
)

func TestLoadConfigAllocRegion(t *testing.T) {
	testCases := map[string]struct {
		start, size         string
		wantStart, wantSize uint64
		wantErr             bool
	}{
		"defaults":     {wantStart: 0, wantSize: 1 << 20},
		"hex":          {start: "0x7f0000000000", size: "0x1000", wantStart: 0x7f0000000000, wantSize: 0x1000},
		"decimal":      {start: "4096", size: "65536", wantStart: 4096, wantSize: 65536},
		"not a number": {start: "heap", wantErr: true},
		"negative":     {size: "-1", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if tc.start != "" {
				t.Setenv("ALLOC_REGION_START", tc.start)
			}
			if tc.size != "" {
				t.Setenv("ALLOC_REGION_SIZE", tc.size)
			}

			cfg, err := autoprobe.LoadConfig()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error for start=%q size=%q", tc.start, tc.size)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not load config: %v", err)
			}

			start, size := cfg.AllocRegion()
			if start != tc.wantStart || size != tc.wantSize {
				t.Errorf("expected region %#x+%#x, got %#x+%#x", tc.wantStart, tc.wantSize, start, size)
			}
		})
	}
}
