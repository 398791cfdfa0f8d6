// Package catalog loads compliance artifacts, links and evidence from YAML
// catalog files and replays them through the command API.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// File is one catalog document.
//
//	artifacts:
//	  - id: CC6.1
//	    kind: control
//	    framework: SOC2
//	    attributes: {title: Logical access}
//	links:
//	  - source: Access-Control-Policy
//	    target: CC6.1
//	    type: maps_to
//	    evidence:
//	      - id: EV-1
//	        collected_at: 2026-01-15T00:00:00Z
//	        freshness_window: 90d
//	        attributes: {result: pass}
type File struct {
	Artifacts []Artifact `yaml:"artifacts"`
	Links     []Link     `yaml:"links"`
}

// Artifact describes an artifact to create.
type Artifact struct {
	ID         string         `yaml:"id"`
	Kind       graph.Kind     `yaml:"kind"`
	Framework  string         `yaml:"framework"`
	Draft      bool           `yaml:"draft"`
	Attributes map[string]any `yaml:"attributes"`
}

// Link describes a link to create and the evidence attached to it.
type Link struct {
	Source   string         `yaml:"source"`
	Target   string         `yaml:"target"`
	Type     graph.LinkType `yaml:"type"`
	Coverage graph.Coverage `yaml:"coverage"`
	Evidence []Evidence     `yaml:"evidence"`
}

// Evidence describes one attachment of an evidence artifact to a link.
type Evidence struct {
	ID              string               `yaml:"id"`
	CollectedAt     time.Time            `yaml:"collected_at"`
	ValidUntil      *time.Time           `yaml:"valid_until"`
	Source          graph.EvidenceSource `yaml:"source"`
	FreshnessWindow string               `yaml:"freshness_window"`
	Attributes      map[string]any       `yaml:"attributes"`
}

// Parse decodes a catalog document. Unknown keys are rejected so typos do
// not silently drop data.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	for i, a := range f.Artifacts {
		if a.ID == "" {
			return nil, fmt.Errorf("artifacts[%d]: id is required", i)
		}
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("artifacts[%d] (%s): invalid kind %q", i, a.ID, a.Kind)
		}
	}
	for i, l := range f.Links {
		if l.Source == "" || l.Target == "" {
			return nil, fmt.Errorf("links[%d]: source and target are required", i)
		}
		for j, e := range l.Evidence {
			if e.ID == "" {
				return nil, fmt.Errorf("links[%d].evidence[%d]: id is required", i, j)
			}
			if e.FreshnessWindow != "" {
				if _, err := graph.ParseDuration(e.FreshnessWindow); err != nil {
					return nil, fmt.Errorf("links[%d].evidence[%d]: %w", i, j, err)
				}
			}
		}
	}
	return &f, nil
}
