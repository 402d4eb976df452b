package model

// RefPatch is a nullable foreign-key field inside a partial update.
//
// It is tri-state: the zero value means "leave unchanged", Clear()
// means "set to null", Set(id) means "set to id". Hooks key off the
// distinction: an explicit null on a device release pin reverts the
// device to its application default, while an absent field does
// nothing.
type RefPatch struct {
	present bool
	null    bool
	id      int64
}

// SetRef returns a patch field assigning id.
func SetRef(id int64) RefPatch {
	return RefPatch{present: true, id: id}
}

// ClearRef returns a patch field assigning explicit null.
func ClearRef() RefPatch {
	return RefPatch{present: true, null: true}
}

// Present reports whether the field appeared in the update at all.
func (p RefPatch) Present() bool { return p.present }

// Null reports whether the field was set to explicit null.
func (p RefPatch) Null() bool { return p.present && p.null }

// ID returns the assigned id and whether one was assigned.
func (p RefPatch) ID() (int64, bool) {
	if !p.present || p.null {
		return 0, false
	}
	return p.id, true
}

// Value returns the patch field as a NullID. Only meaningful when
// Present() is true.
func (p RefPatch) Value() NullID {
	if p.null {
		return NullID{}
	}
	return Ref(p.id)
}

// DeviceInput is the payload for provisioning a new device.
type DeviceInput struct {
	UUID          string
	Name          string
	ApplicationID int64

	// Optional pins set at creation time.
	TargetReleaseID     NullID
	SupervisorReleaseID NullID
}

// DevicePatch is a partial update over a set of devices.
type DevicePatch struct {
	Name *string

	// ApplicationID moves the devices to another application. Null is
	// not a legal assignment for this field.
	ApplicationID RefPatch

	TargetReleaseID     RefPatch
	SupervisorReleaseID RefPatch
	RunningReleaseID    RefPatch
}

// IsZero reports whether the patch carries no changes.
func (p DevicePatch) IsZero() bool {
	return p.Name == nil &&
		!p.ApplicationID.Present() &&
		!p.TargetReleaseID.Present() &&
		!p.SupervisorReleaseID.Present() &&
		!p.RunningReleaseID.Present()
}

// ApplicationInput is the payload for creating an application.
type ApplicationInput struct {
	Name string
}

// ApplicationPatch is a partial update over a set of applications.
type ApplicationPatch struct {
	Name            *string
	TargetReleaseID RefPatch
}

// IsZero reports whether the patch carries no changes.
func (p ApplicationPatch) IsZero() bool {
	return p.Name == nil && !p.TargetReleaseID.Present()
}

// ReleaseInput is the payload for registering a release.
type ReleaseInput struct {
	ApplicationID int64
	Commit        string
	Status        string
}

// ServiceInput is the payload for registering a service.
type ServiceInput struct {
	ApplicationID int64
	Name          string
}

// ImageInput is the payload for registering an image.
type ImageInput struct {
	ServiceID int64
	ReleaseID int64
	Digest    string
}
