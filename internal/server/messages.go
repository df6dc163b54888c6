package server

import (
	"time"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
)

// ========== Element messages ==========

type CreateElementRequest struct {
	TypeName        string                  `json:"typeName"`
	Properties      property.Bag            `json:"properties,omitempty"`
	Classifications map[string]property.Bag `json:"classifications,omitempty"`
	Status          model.Status            `json:"status,omitempty"`
	EffectiveFrom   *time.Time              `json:"effectiveFrom,omitempty"`
	EffectiveTo     *time.Time              `json:"effectiveTo,omitempty"`
	Anchor          model.AnchorSpec        `json:"anchor"`
}

type CreateFromTemplateRequest struct {
	TemplateGUID          string            `json:"templateGUID"`
	ExpectedType          string            `json:"expectedType,omitempty"`
	ReplacementProperties property.Bag      `json:"replacementProperties,omitempty"`
	Placeholders          map[string]string `json:"placeholders,omitempty"`
	AllowUnresolved       bool              `json:"allowUnresolved,omitempty"`
	Parent                model.AnchorSpec  `json:"parent"`
	Status                model.Status      `json:"status,omitempty"`
}

type CreateFromTemplateResponse struct {
	GUID          string            `json:"guid"`
	Elements      int               `json:"elements"`
	Relationships int               `json:"relationships"`
	Mapping       map[string]string `json:"mapping,omitempty"`
}

type GUIDResponse struct {
	GUID string `json:"guid"`
}

type GetElementRequest struct {
	GUID    string        `json:"guid"`
	Options model.Options `json:"options"`
}

type ElementResponse struct {
	Element *model.Element `json:"element"`
}

type HistoryResponse struct {
	Versions []*model.Element `json:"versions"`
}

type UpdateElementRequest struct {
	GUID         string           `json:"guid"`
	ExpectedType string           `json:"expectedType,omitempty"`
	Properties   property.Bag     `json:"properties"`
	Mode         model.UpdateMode `json:"mode,omitempty"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type SetStatusRequest struct {
	GUID   string       `json:"guid"`
	Status model.Status `json:"status"`
}

type DeleteElementRequest struct {
	GUID    string              `json:"guid"`
	Options model.DeleteOptions `json:"options"`
}

type DeleteElementResponse struct {
	Result model.CascadeResult `json:"result"`
}

type AnchorRequest struct {
	GUID string `json:"guid"`
}

type AnchorResponse struct {
	AnchorGUID string   `json:"anchorGUID"`
	Members    []string `json:"members"`
}

// ========== Classification messages ==========

type ClassifyRequest struct {
	GUID           string       `json:"guid"`
	Classification string       `json:"classification"`
	Properties     property.Bag `json:"properties,omitempty"`

	// Mode updates an existing classification instead of adding one.
	Mode model.UpdateMode `json:"mode,omitempty"`
}

type DeclassifyRequest struct {
	GUID           string `json:"guid"`
	Classification string `json:"classification"`
}

// ========== Relationship messages ==========

type LinkRequest struct {
	RelationshipType string       `json:"relationshipType"`
	End1GUID         string       `json:"end1GUID"`
	End2GUID         string       `json:"end2GUID"`
	Properties       property.Bag `json:"properties,omitempty"`
}

type DetachRequest struct {
	RelationshipType string `json:"relationshipType"`
	End1GUID         string `json:"end1GUID"`
	End2GUID         string `json:"end2GUID"`
}

type DetachResponse struct {
	Removed int `json:"removed"`
}

type RelationshipsBetweenRequest struct {
	GUID             string        `json:"guid"`
	OtherGUID        string        `json:"otherGUID,omitempty"`
	RelationshipType string        `json:"relationshipType,omitempty"`
	Options          model.Options `json:"options"`
}

type RelationshipsResponse struct {
	Relationships []*model.Relationship `json:"relationships"`
}

type DeleteRelationshipRequest struct {
	GUID string `json:"guid"`
}

// ========== Query messages ==========

type RelatedRequest struct {
	GUID             string          `json:"guid"`
	Direction        model.Direction `json:"direction,omitempty"`
	RelationshipType string          `json:"relationshipType,omitempty"`
	ResultType       string          `json:"resultType,omitempty"`
	Hops             int             `json:"hops,omitempty"`
	Options          model.Options   `json:"options"`
}

type FindRequest struct {
	Search     string        `json:"search"`
	Properties []string      `json:"properties,omitempty"`
	Options    model.Options `json:"options"`
}

type GetByNameRequest struct {
	Name       string        `json:"name"`
	Properties []string      `json:"properties,omitempty"`
	Options    model.Options `json:"options"`
}

type FindByPropertiesRequest struct {
	Criteria property.Search `json:"criteria"`
	Options  model.Options   `json:"options"`
}

type ElementsResponse struct {
	Elements []*model.Element `json:"elements"`
}

// ========== Health ==========

type Empty struct{}

type HealthRequest struct{}

type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}
