package graph

import (
	"sort"
)

// Snapshot is the immutable state of the graph at one graph version. It is
// safe for concurrent reads.
type Snapshot struct {
	Version int64

	artifacts   map[string]*Artifact
	links       map[string]*Link
	out         map[string][]*Link // source id -> links
	in          map[string][]*Link // target id -> links
	attachments map[string][]*EvidenceAttachment
}

// NewSnapshot indexes the given current-state records. Slices are copied.
func NewSnapshot(version int64, artifacts []Artifact, links []Link, attachments []EvidenceAttachment) *Snapshot {
	s := &Snapshot{
		Version:     version,
		artifacts:   make(map[string]*Artifact, len(artifacts)),
		links:       make(map[string]*Link, len(links)),
		out:         make(map[string][]*Link),
		in:          make(map[string][]*Link),
		attachments: make(map[string][]*EvidenceAttachment),
	}
	for i := range artifacts {
		a := artifacts[i]
		s.artifacts[a.ID] = &a
	}

	sorted := make([]Link, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for i := range sorted {
		l := &sorted[i]
		s.links[l.ID] = l
		s.out[l.SourceID] = append(s.out[l.SourceID], l)
		s.in[l.TargetID] = append(s.in[l.TargetID], l)
	}

	for i := range attachments {
		e := attachments[i]
		s.attachments[e.LinkID] = append(s.attachments[e.LinkID], &e)
	}
	for _, list := range s.attachments {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CollectedAt.Equal(list[j].CollectedAt) {
				return list[i].CollectedAt.Before(list[j].CollectedAt)
			}
			return list[i].Version < list[j].Version
		})
	}
	return s
}

// Artifact returns the artifact with the given id, including retired ones.
func (s *Snapshot) Artifact(id string) (*Artifact, bool) {
	a, ok := s.artifacts[id]
	return a, ok
}

// Link returns the link with the given id, including retired ones.
func (s *Snapshot) Link(id string) (*Link, bool) {
	l, ok := s.links[id]
	return l, ok
}

// Attachments returns every attachment on a link, oldest collection first.
func (s *Snapshot) Attachments(linkID string) []*EvidenceAttachment {
	return s.attachments[linkID]
}

// Latest returns the most recently collected attachment on a link.
func (s *Snapshot) Latest(linkID string) *EvidenceAttachment {
	list := s.attachments[linkID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Live reports whether a link and both of its endpoints are not retired.
func (s *Snapshot) Live(l *Link) bool {
	if l.Retired {
		return false
	}
	src, ok := s.artifacts[l.SourceID]
	if !ok || src.Retired() {
		return false
	}
	dst, ok := s.artifacts[l.TargetID]
	return ok && !dst.Retired()
}

// Inbound returns live links into id, restricted to the given types when any
// are passed.
func (s *Snapshot) Inbound(id string, types ...LinkType) []*Link {
	return s.filter(s.in[id], types)
}

// Outbound returns live links out of id, restricted to the given types when
// any are passed.
func (s *Snapshot) Outbound(id string, types ...LinkType) []*Link {
	return s.filter(s.out[id], types)
}

func (s *Snapshot) filter(links []*Link, types []LinkType) []*Link {
	var result []*Link
	for _, l := range links {
		if !s.Live(l) {
			continue
		}
		if len(types) > 0 && !containsType(types, l.Type) {
			continue
		}
		result = append(result, l)
	}
	return result
}

func containsType(types []LinkType, t LinkType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// Find returns the non-retired link of type t from source to target.
func (s *Snapshot) Find(sourceID, targetID string, t LinkType) (*Link, bool) {
	for _, l := range s.out[sourceID] {
		if l.TargetID == targetID && l.Type == t && !l.Retired {
			return l, true
		}
	}
	return nil, false
}

// Artifacts returns artifacts matching keep, ordered by id.
func (s *Snapshot) Artifacts(keep func(*Artifact) bool) []*Artifact {
	var result []*Artifact
	for _, a := range s.artifacts {
		if keep == nil || keep(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Links returns links matching keep, in creation order.
func (s *Snapshot) Links(keep func(*Link) bool) []*Link {
	var result []*Link
	for _, l := range s.links {
		if keep == nil || keep(l) {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Controls returns the non-retired controls of a framework. An empty
// framework id matches every framework.
func (s *Snapshot) Controls(frameworkID string) []*Artifact {
	return s.Artifacts(func(a *Artifact) bool {
		return a.Kind == KindControl && !a.Retired() &&
			(frameworkID == "" || a.FrameworkID == frameworkID)
	})
}

// Frameworks returns the distinct framework ids of non-retired controls.
func (s *Snapshot) Frameworks() []string {
	seen := make(map[string]bool)
	var result []string
	for _, a := range s.artifacts {
		if a.Kind == KindControl && !a.Retired() && !seen[a.FrameworkID] {
			seen[a.FrameworkID] = true
			result = append(result, a.FrameworkID)
		}
	}
	sort.Strings(result)
	return result
}

// Counts returns the number of artifacts, links and attachments.
func (s *Snapshot) Counts() (artifacts, links, attachments int) {
	for _, list := range s.attachments {
		attachments += len(list)
	}
	return len(s.artifacts), len(s.links), attachments
}
