// ABOUTME: Core data model shared by the stores: elements, classifications, relationships
// ABOUTME: Also carries request-scoped options and anchor specifications

package model

import (
	"time"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/property"
)

// Status is the lifecycle state of an element or relationship.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusActive  Status = "ACTIVE"
	StatusDeleted Status = "DELETED"
)

// Element is a typed metadata node.
type Element struct {
	GUID            string                     `json:"guid"`
	TypeName        string                     `json:"typeName"`
	Properties      property.Bag               `json:"properties,omitempty"`
	Classifications map[string]*Classification `json:"classifications,omitempty"`

	// AnchorGUID is the element that owns this one. Empty or equal to GUID
	// when the element is its own anchor.
	AnchorGUID string `json:"anchorGUID,omitempty"`

	Status     Status    `json:"status"`
	Version    int64     `json:"version"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreateTime time.Time `json:"createTime"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
	UpdateTime time.Time `json:"updateTime"`

	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
}

// IsOwnAnchor reports whether no other element owns this one.
func (e *Element) IsOwnAnchor() bool {
	return e.AnchorGUID == "" || e.AnchorGUID == e.GUID
}

// Owner returns the anchoring element GUID, or "" for own anchors.
func (e *Element) Owner() string {
	if e.IsOwnAnchor() {
		return ""
	}
	return e.AnchorGUID
}

// EffectiveAt reports whether t falls inside the effectivity window.
func (e *Element) EffectiveAt(t time.Time) bool {
	return effectiveAt(e.EffectiveFrom, e.EffectiveTo, t)
}

// Clone returns a deep copy.
func (e *Element) Clone() *Element {
	c := *e
	c.Properties = e.Properties.Clone()
	if e.Classifications != nil {
		c.Classifications = make(map[string]*Classification, len(e.Classifications))
		for k, v := range e.Classifications {
			c.Classifications[k] = v.Clone()
		}
	}
	return &c
}

// Classification is a typed property bag attached to one element.
type Classification struct {
	ElementGUID string       `json:"elementGUID"`
	TypeName    string       `json:"typeName"`
	Properties  property.Bag `json:"properties,omitempty"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	CreateTime  time.Time    `json:"createTime"`
	UpdatedBy   string       `json:"updatedBy,omitempty"`
	UpdateTime  time.Time    `json:"updateTime"`
}

func (c *Classification) Clone() *Classification {
	out := *c
	out.Properties = c.Properties.Clone()
	return &out
}

// Relationship is a typed directed edge between two elements.
type Relationship struct {
	GUID       string       `json:"guid"`
	TypeName   string       `json:"typeName"`
	End1GUID   string       `json:"end1GUID"`
	End2GUID   string       `json:"end2GUID"`
	Properties property.Bag `json:"properties,omitempty"`

	Status     Status    `json:"status"`
	Version    int64     `json:"version"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreateTime time.Time `json:"createTime"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
	UpdateTime time.Time `json:"updateTime"`

	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
}

// Other returns the end opposite to guid.
func (r *Relationship) Other(guid string) string {
	if r.End1GUID == guid {
		return r.End2GUID
	}
	return r.End1GUID
}

// Touches reports whether guid is one of the ends.
func (r *Relationship) Touches(guid string) bool {
	return r.End1GUID == guid || r.End2GUID == guid
}

func (r *Relationship) EffectiveAt(t time.Time) bool {
	return effectiveAt(r.EffectiveFrom, r.EffectiveTo, t)
}

func (r *Relationship) Clone() *Relationship {
	c := *r
	c.Properties = r.Properties.Clone()
	return &c
}

func effectiveAt(from, to *time.Time, t time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

// Direction selects which end of a relationship the starting element sits at.
type Direction string

const (
	// DirectionAny follows relationships regardless of end.
	DirectionAny Direction = "ANY"
	// DirectionFromEnd1 follows relationships whose end1 is the start element.
	DirectionFromEnd1 Direction = "FROM_END1"
	// DirectionFromEnd2 follows relationships whose end2 is the start element.
	DirectionFromEnd2 Direction = "FROM_END2"
)

// Far returns the element reached from guid along r in direction d, or ""
// when r does not leave guid in that direction.
func (d Direction) Far(r *Relationship, guid string) string {
	switch d {
	case DirectionFromEnd1:
		if r.End1GUID == guid {
			return r.End2GUID
		}
	case DirectionFromEnd2:
		if r.End2GUID == guid {
			return r.End1GUID
		}
	default:
		if r.Touches(guid) {
			return r.Other(guid)
		}
	}
	return ""
}

// AnchorSpec says how a new element is owned. An empty ParentGUID makes
// the element its own anchor. With a parent, the element is linked to the
// parent through ParentRelationshipType and anchored to it unless OwnAnchor
// is set.
type AnchorSpec struct {
	ParentGUID                   string       `json:"parentGUID,omitempty"`
	ParentRelationshipType       string       `json:"parentRelationshipType,omitempty"`
	ParentAtEnd1                 bool         `json:"parentAtEnd1,omitempty"`
	ParentRelationshipProperties property.Bag `json:"parentRelationshipProperties,omitempty"`
	OwnAnchor                    bool         `json:"ownAnchor,omitempty"`
}

// HasParent reports whether the element is attached to a parent.
func (a AnchorSpec) HasParent() bool {
	return a.ParentGUID != ""
}

// ParentEnds orders the parent and child GUIDs as end1 and end2.
func (a AnchorSpec) ParentEnds(child string) (string, string) {
	if a.ParentAtEnd1 {
		return a.ParentGUID, child
	}
	return child, a.ParentGUID
}

// UpdateMode selects merge or replace semantics for property updates.
type UpdateMode string

const (
	// ModeMerge overwrites only the properties named in the request.
	ModeMerge UpdateMode = "MERGE"
	// ModeReplace discards properties not named in the request.
	ModeReplace UpdateMode = "REPLACE"
)

// Validate rejects anything other than MERGE or REPLACE.
func (m UpdateMode) Validate() error {
	switch m {
	case ModeMerge, ModeReplace:
		return nil
	}
	return apperror.InvalidParameter(apperror.CodeInvalidOption,
		"update mode must be %s or %s, got %q", ModeMerge, ModeReplace, string(m))
}

// Apply computes the resulting bag. The mode must be valid.
func (m UpdateMode) Apply(current, update property.Bag) property.Bag {
	if m == ModeReplace {
		return update.Clone()
	}
	return current.Merge(update)
}

// DeleteOptions control cascading deletes.
type DeleteOptions struct {
	// BestEffort treats elements that are already gone as deleted.
	BestEffort bool `json:"bestEffort,omitempty"`
	// Soft marks elements and relationships DELETED instead of removing them.
	Soft bool `json:"soft,omitempty"`
}

// CascadeResult reports the progress of a cascading delete. It is returned
// even when the delete fails part way.
type CascadeResult struct {
	RootGUID             string   `json:"rootGUID"`
	ElementsDeleted      int      `json:"elementsDeleted"`
	RelationshipsDeleted int      `json:"relationshipsDeleted"`
	Remaining            []string `json:"remaining,omitempty"`
}
