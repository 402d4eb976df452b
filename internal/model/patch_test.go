package model

import "testing"

func TestRefPatchTriState(t *testing.T) {
	var absent RefPatch
	if absent.Present() || absent.Null() {
		t.Error("zero RefPatch should be absent")
	}
	if _, ok := absent.ID(); ok {
		t.Error("absent patch should carry no id")
	}

	null := ClearRef()
	if !null.Present() || !null.Null() {
		t.Error("ClearRef should be present and null")
	}
	if _, ok := null.ID(); ok {
		t.Error("null patch should carry no id")
	}
	if null.Value().Valid {
		t.Error("null patch value should be the invalid NullID")
	}

	set := SetRef(42)
	if !set.Present() || set.Null() {
		t.Error("SetRef should be present and non-null")
	}
	id, ok := set.ID()
	if !ok || id != 42 {
		t.Errorf("SetRef(42).ID() = %d, %v", id, ok)
	}
	if v := set.Value(); !v.Valid || v.ID != 42 {
		t.Errorf("SetRef(42).Value() = %+v", v)
	}
}

func TestDevicePatchIsZero(t *testing.T) {
	if !(DevicePatch{}).IsZero() {
		t.Error("empty patch should be zero")
	}

	name := "edge-1"
	patches := []DevicePatch{
		{Name: &name},
		{ApplicationID: SetRef(1)},
		{TargetReleaseID: ClearRef()},
		{SupervisorReleaseID: SetRef(2)},
		{RunningReleaseID: SetRef(3)},
	}
	for i, p := range patches {
		if p.IsZero() {
			t.Errorf("patch %d should not be zero", i)
		}
	}
}

func TestApplicationPatchIsZero(t *testing.T) {
	if !(ApplicationPatch{}).IsZero() {
		t.Error("empty patch should be zero")
	}
	if (ApplicationPatch{TargetReleaseID: ClearRef()}).IsZero() {
		t.Error("explicit null pin should not be zero")
	}
}
