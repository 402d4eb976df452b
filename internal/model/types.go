package model

import "time"

// Resource names. These double as the SQLite table names, so every
// filter expression and hook registration uses the same vocabulary.
const (
	ResourceApplication    = "applications"
	ResourceDevice         = "devices"
	ResourceRelease        = "releases"
	ResourceService        = "services"
	ResourceImage          = "images"
	ResourceServiceInstall = "service_installs"
)

// Application owns a set of devices and carries the fleet-wide default
// release pin. Devices without their own pin track this default.
type Application struct {
	ID   int64
	Name string

	// TargetReleaseID is the application default release pin.
	// Zero Valid means "no default pinned yet".
	TargetReleaseID NullID

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Device belongs to exactly one application at a time. Its pins are
// nullable: a null target release means "track the application default".
type Device struct {
	ID            int64
	UUID          string
	Name          string
	ApplicationID int64

	// TargetReleaseID is the device-level release pin. While set, the
	// device ignores application default pin changes.
	TargetReleaseID NullID

	// SupervisorReleaseID pins the supervisor release. Tracked
	// independently of the main pin and only ever adds installs.
	SupervisorReleaseID NullID

	// RunningReleaseID is the release the device last reported running.
	RunningReleaseID NullID

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Release is an immutable versioned bundle belonging to an application.
// Its service set is derived through the images that are part of it.
type Release struct {
	ID            int64
	ApplicationID int64
	Commit        string
	Status        string
	CreatedAt     time.Time
}

// Release status values.
const (
	ReleaseStatusSuccess   = "success"
	ReleaseStatusFailed    = "failed"
	ReleaseStatusCancelled = "cancelled"
)

// Service is a named component of an application, produced by one or
// more images across releases.
type Service struct {
	ID            int64
	ApplicationID int64
	Name          string
}

// Image is one build artifact: part of exactly one release, built by
// exactly one service.
type Image struct {
	ID        int64
	ServiceID int64
	ReleaseID int64
	Digest    string
}

// ServiceInstall records that a device currently intends to run a
// service. Existence is derived state: it is created by the reconciler
// and removed only when the device migrates to another application.
type ServiceInstall struct {
	ID        int64
	DeviceID  int64
	ServiceID int64
	CreatedAt time.Time
}
