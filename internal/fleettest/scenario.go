// Package fleettest runs YAML conformance scenarios against a live
// store with the reconciliation hooks attached. A scenario seeds a
// fleet from an inline manifest, executes a sequence of mutations the
// way API requests would, and asserts on the resulting install table
// and notification traffic.
package fleettest

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fleetd/internal/manifest"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Manifest seeds the fleet before any step runs.
	Manifest manifest.Manifest `yaml:"manifest"`

	// Steps are executed in order, each in its own transaction, the
	// way separate API requests would be.
	Steps []Step `yaml:"steps,omitempty"`

	// Expect asserts on the state after the last step.
	Expect Expect `yaml:"expect"`

	// Golden additionally compares a dump of the install table against
	// testdata/golden/<name>.golden.
	Golden bool `yaml:"golden,omitempty"`
}

// Step is one mutation.
type Step struct {
	// Op selects the mutation:
	//   pin-application, unpin-application, create-device, pin-device,
	//   unpin-device, move-device, pin-supervisor, report-running
	Op string `yaml:"op"`

	// Application names the application the op applies to. For release
	// resolution it disambiguates commits that appear in several
	// applications; ops on devices use it as the migration target.
	Application string `yaml:"application,omitempty"`

	// Devices are the uuids of the devices the op applies to.
	Devices []string `yaml:"devices,omitempty"`

	// Commit names the release the op pins or reports. An empty commit
	// on report-running clears the running release.
	Commit string `yaml:"commit,omitempty"`

	// Supervisor names the supervisor release for create-device.
	Supervisor string `yaml:"supervisor,omitempty"`

	// UUID and Name describe the device for create-device.
	UUID string `yaml:"uuid,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// Expect asserts on final state.
type Expect struct {
	// Installs maps device uuid to the service names the device must
	// have install rows for, exactly (order ignored).
	Installs map[string][]string `yaml:"installs,omitempty"`

	// Notifications is the expected number of update notifications
	// queued over the whole scenario. Nil skips the check.
	Notifications *int `yaml:"notifications,omitempty"`
}

// Step op constants.
const (
	OpPinApplication   = "pin-application"
	OpUnpinApplication = "unpin-application"
	OpCreateDevice     = "create-device"
	OpPinDevice        = "pin-device"
	OpUnpinDevice      = "unpin-device"
	OpMoveDevice       = "move-device"
	OpPinSupervisor    = "pin-supervisor"
	OpReportRunning    = "report-running"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := manifest.Validate(&s.Manifest); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	for i, step := range s.Steps {
		switch step.Op {
		case OpPinApplication:
			if step.Application == "" || step.Commit == "" {
				return fmt.Errorf("steps[%d] %s: application and commit are required", i, step.Op)
			}
		case OpUnpinApplication:
			if step.Application == "" {
				return fmt.Errorf("steps[%d] %s: application is required", i, step.Op)
			}
		case OpCreateDevice:
			if step.UUID == "" || step.Application == "" {
				return fmt.Errorf("steps[%d] %s: uuid and application are required", i, step.Op)
			}
		case OpPinDevice, OpPinSupervisor:
			if len(step.Devices) == 0 || step.Commit == "" {
				return fmt.Errorf("steps[%d] %s: devices and commit are required", i, step.Op)
			}
		case OpUnpinDevice, OpReportRunning:
			if len(step.Devices) == 0 {
				return fmt.Errorf("steps[%d] %s: devices are required", i, step.Op)
			}
		case OpMoveDevice:
			if len(step.Devices) == 0 || step.Application == "" {
				return fmt.Errorf("steps[%d] %s: devices and application are required", i, step.Op)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}
	return nil
}
