// ABOUTME: Hand-written gRPC service descriptor and client for the metadata store
// ABOUTME: Messages travel as JSON through the codec registered in codec.go

package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/nainya/anchorstore/pkg/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "anchorstore.v1.MetadataStore"

// MetadataStoreServer is the server API of the metadata store service.
type MetadataStoreServer interface {
	CreateElement(context.Context, *CreateElementRequest) (*GUIDResponse, error)
	CreateFromTemplate(context.Context, *CreateFromTemplateRequest) (*CreateFromTemplateResponse, error)
	GetElement(context.Context, *GetElementRequest) (*ElementResponse, error)
	GetHistory(context.Context, *GetElementRequest) (*HistoryResponse, error)
	UpdateElement(context.Context, *UpdateElementRequest) (*ChangedResponse, error)
	SetStatus(context.Context, *SetStatusRequest) (*Empty, error)
	DeleteElement(context.Context, *DeleteElementRequest) (*DeleteElementResponse, error)
	GetAnchor(context.Context, *AnchorRequest) (*AnchorResponse, error)

	Classify(context.Context, *ClassifyRequest) (*Empty, error)
	Declassify(context.Context, *DeclassifyRequest) (*ChangedResponse, error)

	LinkElements(context.Context, *LinkRequest) (*GUIDResponse, error)
	DetachElements(context.Context, *DetachRequest) (*DetachResponse, error)
	GetRelationshipsBetween(context.Context, *RelationshipsBetweenRequest) (*RelationshipsResponse, error)
	DeleteRelationship(context.Context, *DeleteRelationshipRequest) (*Empty, error)

	GetRelatedElements(context.Context, *RelatedRequest) (*ElementsResponse, error)
	Find(context.Context, *FindRequest) (*ElementsResponse, error)
	GetByName(context.Context, *GetByNameRequest) (*ElementsResponse, error)
	FindByProperties(context.Context, *FindByPropertiesRequest) (*ElementsResponse, error)

	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

func unary[Req, Resp any](name string, call func(MetadataStoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MetadataStoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MetadataStoreServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the metadata store service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MetadataStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateElement", MetadataStoreServer.CreateElement),
		unary("CreateFromTemplate", MetadataStoreServer.CreateFromTemplate),
		unary("GetElement", MetadataStoreServer.GetElement),
		unary("GetHistory", MetadataStoreServer.GetHistory),
		unary("UpdateElement", MetadataStoreServer.UpdateElement),
		unary("SetStatus", MetadataStoreServer.SetStatus),
		unary("DeleteElement", MetadataStoreServer.DeleteElement),
		unary("GetAnchor", MetadataStoreServer.GetAnchor),
		unary("Classify", MetadataStoreServer.Classify),
		unary("Declassify", MetadataStoreServer.Declassify),
		unary("LinkElements", MetadataStoreServer.LinkElements),
		unary("DetachElements", MetadataStoreServer.DetachElements),
		unary("GetRelationshipsBetween", MetadataStoreServer.GetRelationshipsBetween),
		unary("DeleteRelationship", MetadataStoreServer.DeleteRelationship),
		unary("GetRelatedElements", MetadataStoreServer.GetRelatedElements),
		unary("Find", MetadataStoreServer.Find),
		unary("GetByName", MetadataStoreServer.GetByName),
		unary("FindByProperties", MetadataStoreServer.FindByProperties),
		unary("Health", MetadataStoreServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "anchorstore/v1/metadata_store",
}

// RegisterMetadataStoreServer registers srv with s.
func RegisterMetadataStoreServer(s grpc.ServiceRegistrar, srv MetadataStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the metadata store service using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateElement(ctx context.Context, in *CreateElementRequest, opts ...grpc.CallOption) (*GUIDResponse, error) {
	return invoke[GUIDResponse](ctx, c, "CreateElement", in, opts)
}

func (c *Client) CreateFromTemplate(ctx context.Context, in *CreateFromTemplateRequest, opts ...grpc.CallOption) (*CreateFromTemplateResponse, error) {
	return invoke[CreateFromTemplateResponse](ctx, c, "CreateFromTemplate", in, opts)
}

func (c *Client) GetElement(ctx context.Context, in *GetElementRequest, opts ...grpc.CallOption) (*ElementResponse, error) {
	return invoke[ElementResponse](ctx, c, "GetElement", in, opts)
}

func (c *Client) GetHistory(ctx context.Context, in *GetElementRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, "GetHistory", in, opts)
}

func (c *Client) UpdateElement(ctx context.Context, in *UpdateElementRequest, opts ...grpc.CallOption) (*ChangedResponse, error) {
	return invoke[ChangedResponse](ctx, c, "UpdateElement", in, opts)
}

func (c *Client) SetStatus(ctx context.Context, in *SetStatusRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "SetStatus", in, opts)
}

// CascadeTrailerKey is the trailer carrying the partial result of a failed
// cascading delete.
const CascadeTrailerKey = "x-anchorstore-cascade-result-bin"

// DeleteElement returns the partial result together with the error when a
// cascading delete stops part way.
func (c *Client) DeleteElement(ctx context.Context, in *DeleteElementRequest, opts ...grpc.CallOption) (*DeleteElementResponse, error) {
	var trailer metadata.MD
	out, err := invoke[DeleteElementResponse](ctx, c, "DeleteElement", in, append(opts, grpc.Trailer(&trailer)))
	if err != nil {
		if res, ok := CascadeResultFromTrailer(trailer); ok {
			return &DeleteElementResponse{Result: res}, err
		}
		return nil, err
	}
	return out, nil
}

// CascadeResultFromTrailer decodes the partial delete result, if any.
func CascadeResultFromTrailer(md metadata.MD) (model.CascadeResult, bool) {
	var res model.CascadeResult
	values := md.Get(CascadeTrailerKey)
	if len(values) == 0 {
		return res, false
	}
	if err := json.Unmarshal([]byte(values[0]), &res); err != nil {
		return res, false
	}
	return res, true
}

func (c *Client) GetAnchor(ctx context.Context, in *AnchorRequest, opts ...grpc.CallOption) (*AnchorResponse, error) {
	return invoke[AnchorResponse](ctx, c, "GetAnchor", in, opts)
}

func (c *Client) Classify(ctx context.Context, in *ClassifyRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "Classify", in, opts)
}

func (c *Client) Declassify(ctx context.Context, in *DeclassifyRequest, opts ...grpc.CallOption) (*ChangedResponse, error) {
	return invoke[ChangedResponse](ctx, c, "Declassify", in, opts)
}

func (c *Client) LinkElements(ctx context.Context, in *LinkRequest, opts ...grpc.CallOption) (*GUIDResponse, error) {
	return invoke[GUIDResponse](ctx, c, "LinkElements", in, opts)
}

func (c *Client) DetachElements(ctx context.Context, in *DetachRequest, opts ...grpc.CallOption) (*DetachResponse, error) {
	return invoke[DetachResponse](ctx, c, "DetachElements", in, opts)
}

func (c *Client) GetRelationshipsBetween(ctx context.Context, in *RelationshipsBetweenRequest, opts ...grpc.CallOption) (*RelationshipsResponse, error) {
	return invoke[RelationshipsResponse](ctx, c, "GetRelationshipsBetween", in, opts)
}

func (c *Client) DeleteRelationship(ctx context.Context, in *DeleteRelationshipRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "DeleteRelationship", in, opts)
}

func (c *Client) GetRelatedElements(ctx context.Context, in *RelatedRequest, opts ...grpc.CallOption) (*ElementsResponse, error) {
	return invoke[ElementsResponse](ctx, c, "GetRelatedElements", in, opts)
}

func (c *Client) Find(ctx context.Context, in *FindRequest, opts ...grpc.CallOption) (*ElementsResponse, error) {
	return invoke[ElementsResponse](ctx, c, "Find", in, opts)
}

func (c *Client) GetByName(ctx context.Context, in *GetByNameRequest, opts ...grpc.CallOption) (*ElementsResponse, error) {
	return invoke[ElementsResponse](ctx, c, "GetByName", in, opts)
}

func (c *Client) FindByProperties(ctx context.Context, in *FindByPropertiesRequest, opts ...grpc.CallOption) (*ElementsResponse, error) {
	return invoke[ElementsResponse](ctx, c, "FindByProperties", in, opts)
}

func (c *Client) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c, "Health", in, opts)
}
