// Package manifest loads declarative fleet manifests: YAML documents
// describing applications, their services and releases, and optionally
// an initial device population. Manifests are validated structurally
// against an embedded CUE schema and referentially in Go, then applied
// through the store's mutation API so the reconciliation hooks fire
// exactly as they would for live requests.
package manifest

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Manifest is the root of a fleet manifest document.
type Manifest struct {
	Applications []Application `yaml:"applications" json:"applications"`
	Devices      []Device      `yaml:"devices,omitempty" json:"devices,omitempty"`
}

// Application declares an application, its services and releases.
type Application struct {
	Name     string    `yaml:"name" json:"name"`
	Services []string  `yaml:"services" json:"services"`
	Releases []Release `yaml:"releases,omitempty" json:"releases,omitempty"`

	// Target is the revision of the release to pin as the application
	// default.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Release declares one release of an application.
type Release struct {
	Commit string  `yaml:"commit" json:"commit"`
	Status string  `yaml:"status,omitempty" json:"status,omitempty"`
	Images []Image `yaml:"images,omitempty" json:"images,omitempty"`
}

// Image links a declared service to its build digest within a release.
type Image struct {
	Service string `yaml:"service" json:"service"`
	Digest  string `yaml:"digest" json:"digest"`
}

// Device declares a device to provision.
type Device struct {
	UUID        string `yaml:"uuid" json:"uuid"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Application string `yaml:"application" json:"application"`

	// Target pins the device to a revision of its application.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// Supervisor pins the device's supervisor release, looked up by
	// revision across all applications in the manifest.
	Supervisor string `yaml:"supervisor,omitempty" json:"supervisor,omitempty"`
}

// Load reads, decodes and validates a manifest file. Unknown YAML keys
// are rejected.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}

	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("validate manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest against the embedded CUE schema, then
// applies the referential rules the schema cannot express.
func Validate(m *Manifest) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if !def.Exists() {
		return fmt.Errorf("schema has no #Manifest definition")
	}

	unified := def.Unify(ctx.Encode(m))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	return m.checkReferences()
}

func (m *Manifest) checkReferences() error {
	appNames := make(map[string]bool, len(m.Applications))
	revisions := make(map[string]map[string]bool) // app name -> revision set
	allRevisions := make(map[string]bool)

	for _, app := range m.Applications {
		if appNames[app.Name] {
			return fmt.Errorf("application %q declared twice", app.Name)
		}
		appNames[app.Name] = true

		services := make(map[string]bool, len(app.Services))
		for _, svc := range app.Services {
			if services[svc] {
				return fmt.Errorf("application %q: service %q declared twice", app.Name, svc)
			}
			services[svc] = true
		}

		revisions[app.Name] = make(map[string]bool, len(app.Releases))
		for _, rel := range app.Releases {
			if revisions[app.Name][rel.Commit] {
				return fmt.Errorf("application %q: release %q declared twice", app.Name, rel.Commit)
			}
			revisions[app.Name][rel.Commit] = true
			allRevisions[rel.Commit] = true

			for _, img := range rel.Images {
				if !services[img.Service] {
					return fmt.Errorf("application %q release %q: image references undeclared service %q",
						app.Name, rel.Commit, img.Service)
				}
			}
		}

		if app.Target != "" && !revisions[app.Name][app.Target] {
			return fmt.Errorf("application %q: target %q names no declared release", app.Name, app.Target)
		}
	}

	uuids := make(map[string]bool, len(m.Devices))
	for _, dev := range m.Devices {
		if uuids[dev.UUID] {
			return fmt.Errorf("device %q declared twice", dev.UUID)
		}
		uuids[dev.UUID] = true

		if !appNames[dev.Application] {
			return fmt.Errorf("device %q: application %q is not declared", dev.UUID, dev.Application)
		}
		if dev.Target != "" && !revisions[dev.Application][dev.Target] {
			return fmt.Errorf("device %q: target %q names no release of application %q",
				dev.UUID, dev.Target, dev.Application)
		}
		if dev.Supervisor != "" && !allRevisions[dev.Supervisor] {
			return fmt.Errorf("device %q: supervisor %q names no declared release", dev.UUID, dev.Supervisor)
		}
	}

	return nil
}
