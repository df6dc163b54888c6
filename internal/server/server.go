// Package server implements the gRPC metadata store service
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/metastore"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/query"
	"github.com/nainya/anchorstore/pkg/template"
)

// Server implements MetadataStoreServer on top of a metastore.Store
type Server struct {
	store     *metastore.Store
	version   string
	startTime time.Time
}

// NewServer creates a new gRPC server instance
func NewServer(store *metastore.Store, version string) *Server {
	return &Server{
		store:     store,
		version:   version,
		startTime: time.Now(),
	}
}

// toStatus maps store errors onto gRPC status codes. The message keeps the
// error code as its first token.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	msg := err.Error()
	if code := apperror.CodeOf(err); code != "" && !strings.HasPrefix(msg, code+":") {
		msg = code + ": " + msg
	}
	switch apperror.KindOf(err) {
	case apperror.KindInvalidParameter:
		return status.Error(codes.InvalidArgument, msg)
	case apperror.KindNotAuthorized:
		return status.Error(codes.PermissionDenied, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

// ErrorCode extracts the store error code from a status returned by the
// service, or "" when there is none.
func ErrorCode(err error) string {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return ""
	}
	code, _, found := strings.Cut(st.Message(), ":")
	if !found || strings.ContainsRune(code, ' ') {
		return ""
	}
	return code
}

func required(name, value string) error {
	if value == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return nil
}

// ========== Element Operations ==========

func (s *Server) CreateElement(ctx context.Context, req *CreateElementRequest) (*GUIDResponse, error) {
	if err := required("typeName", req.TypeName); err != nil {
		return nil, err
	}
	guid, err := s.store.CreateElement(ctx, element.NewElement{
		TypeName:        req.TypeName,
		Properties:      req.Properties,
		Classifications: req.Classifications,
		Status:          req.Status,
		EffectiveFrom:   req.EffectiveFrom,
		EffectiveTo:     req.EffectiveTo,
		Anchor:          req.Anchor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &GUIDResponse{GUID: guid}, nil
}

func (s *Server) CreateFromTemplate(ctx context.Context, req *CreateFromTemplateRequest) (*CreateFromTemplateResponse, error) {
	if err := required("templateGUID", req.TemplateGUID); err != nil {
		return nil, err
	}
	res, err := s.store.CreateFromTemplate(ctx, template.Request{
		TemplateGUID:          req.TemplateGUID,
		ExpectedType:          req.ExpectedType,
		ReplacementProperties: req.ReplacementProperties,
		Placeholders:          req.Placeholders,
		AllowUnresolved:       req.AllowUnresolved,
		Parent:                req.Parent,
		Status:                req.Status,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateFromTemplateResponse{
		GUID:          res.GUID,
		Elements:      res.Elements,
		Relationships: res.Relationships,
		Mapping:       res.Mapping,
	}, nil
}

func (s *Server) GetElement(ctx context.Context, req *GetElementRequest) (*ElementResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	e, err := s.store.GetByGUID(ctx, req.GUID, req.Options)
	if err != nil {
		return nil, toStatus(err)
	}
	if e == nil {
		return nil, toStatus(apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s not found", req.GUID))
	}
	return &ElementResponse{Element: e}, nil
}

func (s *Server) GetHistory(ctx context.Context, req *GetElementRequest) (*HistoryResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	versions, err := s.store.History(ctx, req.GUID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HistoryResponse{Versions: versions}, nil
}

func (s *Server) UpdateElement(ctx context.Context, req *UpdateElementRequest) (*ChangedResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeMerge
	}
	changed, err := s.store.UpdateTyped(ctx, req.GUID, req.ExpectedType, req.Properties, mode)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ChangedResponse{Changed: changed}, nil
}

func (s *Server) SetStatus(ctx context.Context, req *SetStatusRequest) (*Empty, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	if err := s.store.SetStatus(ctx, req.GUID, req.Status); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) DeleteElement(ctx context.Context, req *DeleteElementRequest) (*DeleteElementResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	res, err := s.store.DeleteElement(ctx, req.GUID, req.Options)
	if err != nil {
		if res.ElementsDeleted > 0 || res.RelationshipsDeleted > 0 || len(res.Remaining) > 0 {
			if data, jerr := json.Marshal(res); jerr == nil {
				_ = grpc.SetTrailer(ctx, metadata.Pairs(CascadeTrailerKey, string(data)))
			}
		}
		return nil, toStatus(err)
	}
	return &DeleteElementResponse{Result: res}, nil
}

func (s *Server) GetAnchor(ctx context.Context, req *AnchorRequest) (*AnchorResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	root, err := s.store.Anchor(ctx, req.GUID)
	if err != nil {
		return nil, toStatus(err)
	}
	members, err := s.store.AnchoredSet(ctx, req.GUID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AnchorResponse{AnchorGUID: root, Members: members}, nil
}

// ========== Classification Operations ==========

func (s *Server) Classify(ctx context.Context, req *ClassifyRequest) (*Empty, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	if err := required("classification", req.Classification); err != nil {
		return nil, err
	}
	var err error
	if req.Mode != "" {
		err = s.store.Reclassify(ctx, req.GUID, req.Classification, req.Properties, req.Mode)
	} else {
		err = s.store.Classify(ctx, req.GUID, req.Classification, req.Properties)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) Declassify(ctx context.Context, req *DeclassifyRequest) (*ChangedResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	removed, err := s.store.Declassify(ctx, req.GUID, req.Classification)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ChangedResponse{Changed: removed}, nil
}

// ========== Relationship Operations ==========

func (s *Server) LinkElements(ctx context.Context, req *LinkRequest) (*GUIDResponse, error) {
	if err := required("relationshipType", req.RelationshipType); err != nil {
		return nil, err
	}
	guid, err := s.store.LinkElements(ctx, req.RelationshipType, req.End1GUID, req.End2GUID, req.Properties)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GUIDResponse{GUID: guid}, nil
}

func (s *Server) DetachElements(ctx context.Context, req *DetachRequest) (*DetachResponse, error) {
	if err := required("relationshipType", req.RelationshipType); err != nil {
		return nil, err
	}
	removed, err := s.store.DetachElements(ctx, req.RelationshipType, req.End1GUID, req.End2GUID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DetachResponse{Removed: removed}, nil
}

func (s *Server) GetRelationshipsBetween(ctx context.Context, req *RelationshipsBetweenRequest) (*RelationshipsResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	rels, err := s.store.GetRelationshipsBetween(ctx, req.GUID, req.OtherGUID, req.RelationshipType, req.Options)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RelationshipsResponse{Relationships: rels}, nil
}

func (s *Server) DeleteRelationship(ctx context.Context, req *DeleteRelationshipRequest) (*Empty, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteRelationship(ctx, req.GUID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// ========== Query Operations ==========

func (s *Server) GetRelatedElements(ctx context.Context, req *RelatedRequest) (*ElementsResponse, error) {
	if err := required("guid", req.GUID); err != nil {
		return nil, err
	}
	b := query.NewTraversal(req.RelationshipType).Returning(req.ResultType)
	switch req.Direction {
	case model.DirectionFromEnd1:
		b = b.FromEnd1()
	case model.DirectionFromEnd2:
		b = b.FromEnd2()
	case "", model.DirectionAny:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s: unknown direction %q", apperror.CodeInvalidOption, req.Direction)
	}
	if req.Hops > 0 {
		b = b.Hops(req.Hops)
	}
	elements, err := s.store.Traverse(ctx, req.GUID, b.Build(), req.Options)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ElementsResponse{Elements: elements}, nil
}

func (s *Server) Find(ctx context.Context, req *FindRequest) (*ElementsResponse, error) {
	elements, err := s.store.Find(ctx, req.Search, req.Options, req.Properties...)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ElementsResponse{Elements: elements}, nil
}

func (s *Server) GetByName(ctx context.Context, req *GetByNameRequest) (*ElementsResponse, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	elements, err := s.store.GetByName(ctx, req.Name, req.Properties, req.Options)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ElementsResponse{Elements: elements}, nil
}

func (s *Server) FindByProperties(ctx context.Context, req *FindByPropertiesRequest) (*ElementsResponse, error) {
	elements, err := s.store.FindByProperties(ctx, req.Criteria, req.Options)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ElementsResponse{Elements: elements}, nil
}

// ========== Health & Status ==========

func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{
		Healthy:       true,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}, nil
}
