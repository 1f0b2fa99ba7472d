package linux

import (
	"syscall"
	"testing"

	"capsule-run/schema"
)

func TestNamespaceConstants(t *testing.T) {
	if CLONE_NEWNS != syscall.CLONE_NEWNS {
		t.Errorf("CLONE_NEWNS mismatch")
	}
	if CLONE_NEWUTS != syscall.CLONE_NEWUTS {
		t.Errorf("CLONE_NEWUTS mismatch")
	}
	if CLONE_NEWIPC != syscall.CLONE_NEWIPC {
		t.Errorf("CLONE_NEWIPC mismatch")
	}
	if CLONE_NEWPID != syscall.CLONE_NEWPID {
		t.Errorf("CLONE_NEWPID mismatch")
	}
	if CLONE_NEWNET != syscall.CLONE_NEWNET {
		t.Errorf("CLONE_NEWNET mismatch")
	}
	if CLONE_NEWUSER != syscall.CLONE_NEWUSER {
		t.Errorf("CLONE_NEWUSER mismatch")
	}
}

func TestBuildSysProcAttrDefault(t *testing.T) {
	attr := BuildSysProcAttr(schema.IsolationConfig{}, 1000, 1000)

	for _, flag := range []uintptr{CLONE_NEWUSER, CLONE_NEWPID, CLONE_NEWNS, CLONE_NEWIPC, CLONE_NEWUTS, CLONE_NEWNET} {
		if attr.Cloneflags&flag == 0 {
			t.Errorf("expected clone flag 0x%x to be set", flag)
		}
	}

	if !attr.Setsid {
		t.Error("Setsid should be true")
	}

	if len(attr.UidMappings) != 1 || attr.UidMappings[0].HostID != 1000 {
		t.Errorf("unexpected uid mappings: %+v", attr.UidMappings)
	}
	if len(attr.GidMappings) != 1 || attr.GidMappings[0].HostID != 1000 {
		t.Errorf("unexpected gid mappings: %+v", attr.GidMappings)
	}
	if attr.GidMappingsEnableSetgroups {
		t.Error("GidMappingsEnableSetgroups should be false")
	}
}

func TestBuildSysProcAttrNetworkEnabled(t *testing.T) {
	attr := BuildSysProcAttr(schema.IsolationConfig{Network: true}, 1000, 1000)

	if attr.Cloneflags&CLONE_NEWNET != 0 {
		t.Error("CLONE_NEWNET should not be set when the request opts into host networking")
	}
}

func TestFormatIDMap(t *testing.T) {
	mappings := []IDMapping{
		{ContainerID: 0, HostID: 1000, Size: 1},
		{ContainerID: 1, HostID: 100000, Size: 65536},
	}

	result := formatIDMap(mappings)
	expected := "0 1000 1\n1 100000 65536\n"

	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestFormatIDMapEmpty(t *testing.T) {
	if result := formatIDMap(nil); result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestSetHostnameEmpty(t *testing.T) {
	if err := SetHostname(""); err != nil {
		t.Errorf("SetHostname with empty string should succeed: %v", err)
	}
}

func TestSetDomainnameEmpty(t *testing.T) {
	if err := SetDomainname(""); err != nil {
		t.Errorf("SetDomainname with empty string should succeed: %v", err)
	}
}
