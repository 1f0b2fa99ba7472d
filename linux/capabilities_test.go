package linux

import (
	"testing"
)

func TestCapHeaderVersion(t *testing.T) {
	if LINUX_CAPABILITY_VERSION_3 != 0x20080522 {
		t.Errorf("unexpected capability version constant: 0x%x", LINUX_CAPABILITY_VERSION_3)
	}
}

func TestPrctlConstants(t *testing.T) {
	if PR_CAPBSET_READ != 23 {
		t.Errorf("PR_CAPBSET_READ = %d, want 23", PR_CAPBSET_READ)
	}
	if PR_CAPBSET_DROP != 24 {
		t.Errorf("PR_CAPBSET_DROP = %d, want 24", PR_CAPBSET_DROP)
	}
	if PR_CAP_AMBIENT != 47 {
		t.Errorf("PR_CAP_AMBIENT = %d, want 47", PR_CAP_AMBIENT)
	}
	if PR_CAP_AMBIENT_CLEAR != 4 {
		t.Errorf("PR_CAP_AMBIENT_CLEAR = %d, want 4", PR_CAP_AMBIENT_CLEAR)
	}
}

func TestGetLastCapIsReasonable(t *testing.T) {
	last := getLastCap()
	if last < 20 || last > 63 {
		t.Errorf("getLastCap() = %d, expected a value between 20 and 63", last)
	}

	// Must be stable across calls (sync.Once memoization).
	if second := getLastCap(); second != last {
		t.Errorf("getLastCap() not stable: %d then %d", last, second)
	}
}

func TestGetCapabilitiesRunsWithoutError(t *testing.T) {
	if _, _, _, err := GetCapabilities(); err != nil {
		t.Fatalf("GetCapabilities failed: %v", err)
	}
}
