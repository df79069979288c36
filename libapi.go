package flowrpc

import (
	"context"
	"net/http"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/flowrpc/internal/runtime"
	clientpkg "github.com/drblury/flowrpc/internal/runtime/client"
	configpkg "github.com/drblury/flowrpc/internal/runtime/config"
	envelopepkg "github.com/drblury/flowrpc/internal/runtime/envelope"
	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	eventspkg "github.com/drblury/flowrpc/internal/runtime/events"
	idspkg "github.com/drblury/flowrpc/internal/runtime/ids"
	jsoncodec "github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	linkpkg "github.com/drblury/flowrpc/internal/runtime/link"
	linkspkg "github.com/drblury/flowrpc/internal/runtime/links"
	loggingpkg "github.com/drblury/flowrpc/internal/runtime/logging"
	metadatapkg "github.com/drblury/flowrpc/internal/runtime/metadata"
	observablepkg "github.com/drblury/flowrpc/internal/runtime/observable"
	procedurepkg "github.com/drblury/flowrpc/internal/runtime/procedure"
	retrypkg "github.com/drblury/flowrpc/internal/runtime/retry"
	routerpkg "github.com/drblury/flowrpc/internal/runtime/router"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	subscriptionpkg "github.com/drblury/flowrpc/internal/runtime/subscription"
	transformerpkg "github.com/drblury/flowrpc/internal/runtime/transformer"
	"github.com/drblury/flowrpc/transport"
	_ "github.com/drblury/flowrpc/transport/transports"
)

type (
	Config                     = configpkg.Config
	Service                    = runtimepkg.Service
	ServiceDependencies[C any] = runtimepkg.ServiceDependencies[C]
	ErrorInfo[C any]           = runtimepkg.ErrorInfo[C]
	Call                       = runtimepkg.Call
	DispatchFunc               = runtimepkg.DispatchFunc
	DispatchMiddleware         = runtimepkg.DispatchMiddleware
	MiddlewareBuilder          = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration     = runtimepkg.MiddlewareRegistration
	ProcedureMetrics           = runtimepkg.ProcedureMetrics

	// Call lifecycle hooks
	CallContext = runtimepkg.CallContext
	CallHooks   = runtimepkg.CallHooks

	// Introspection
	ProcedureInfo         = runtimepkg.ProcedureInfo
	StatsSnapshot         = runtimepkg.StatsSnapshot
	LatencyMetrics        = runtimepkg.LatencyMetrics
	ThroughputMetrics     = runtimepkg.ThroughputMetrics
	ErrorBreakdown        = runtimepkg.ErrorBreakdown
	ResourceUsage         = runtimepkg.ResourceUsage
	IntrospectionSnapshot = runtimepkg.IntrospectionSnapshot

	// Procedures and routers
	ProcedureType              = envelopepkg.ProcedureType
	Router[C any]              = routerpkg.Router[C]
	Caller[C any]              = routerpkg.Caller[C]
	DuplicateError             = routerpkg.DuplicateError
	Procedure[C any]           = procedurepkg.Procedure[C]
	Definition[C any]          = procedurepkg.Definition[C]
	Resolver[C any]            = procedurepkg.Resolver[C]
	ResolveOptions[C any]      = procedurepkg.ResolveOptions[C]
	ProcedureMiddleware[C any] = procedurepkg.Middleware[C]
	MiddlewareOptions[C any]   = procedurepkg.MiddlewareOptions[C]
	ParseFunc                  = procedurepkg.ParseFunc
	Parser                     = procedurepkg.Parser
	Validator                  = procedurepkg.Validator

	// Subscriptions
	Subscription      = subscriptionpkg.Subscription
	SubscriptionEvent = subscriptionpkg.Event
	Emitter           = subscriptionpkg.Emitter

	// Wire format
	Request         = envelopepkg.Request
	Response        = envelopepkg.Response
	Transformer     = transformerpkg.Transformer
	TransformerPair = transformerpkg.Pair
	Payload         = transformerpkg.Payload

	// Errors
	Code                  = rpcerror.Code
	Error                 = rpcerror.Error
	ErrorShape            = rpcerror.Shape
	ClientError           = rpcerror.ClientError
	ConfigValidationError = errspkg.ConfigValidationError

	// Client
	Client                           = clientpkg.Client
	ClientOptions                    = clientpkg.Options
	RequestOption                    = clientpkg.RequestOption
	SubscriptionOptions[In, Out any] = clientpkg.SubscriptionOptions[In, Out]
	CancelFunc                       = clientpkg.CancelFunc
	RetryConfig                      = retrypkg.Config

	// Links
	Link                 = linkpkg.Link
	OperationLink        = linkpkg.OperationLink
	Operation            = linkpkg.Operation
	OperationContext     = linkpkg.OperationContext
	OperationResult      = linkpkg.Result
	LinkCall             = linkpkg.Call
	LinkRuntime          = linkpkg.Runtime
	HeadersFunc          = linkpkg.HeadersFunc
	ObservableOperation  = linkpkg.ObservableOperation
	Callbacks[T any]     = observablepkg.Callbacks[T]
	HTTPLinkOptions      = linkspkg.HTTPLinkOptions
	WebSocketLinkOptions = linkspkg.WebSocketLinkOptions
	WebSocketClient      = linkspkg.WebSocketClient
	RetryLinkConfig      = linkspkg.RetryLinkConfig

	// Event bus
	EventDecoder = eventspkg.Decoder
	Metadata     = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Modular transport registry
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	Transport             = transport.Transport
)

const (
	ProcedureQuery        = envelopepkg.Query
	ProcedureMutation     = envelopepkg.Mutation
	ProcedureSubscription = envelopepkg.Subscription

	ResultData    = envelopepkg.ResultData
	ResultInit    = envelopepkg.ResultInit
	ResultStopped = envelopepkg.ResultStopped

	CodeParseError          = rpcerror.CodeParseError
	CodeBadRequest          = rpcerror.CodeBadRequest
	CodeBadUserInput        = rpcerror.CodeBadUserInput
	CodeUnauthenticated     = rpcerror.CodeUnauthenticated
	CodeForbidden           = rpcerror.CodeForbidden
	CodeNotFound            = rpcerror.CodeNotFound
	CodeMethodNotSupported  = rpcerror.CodeMethodNotSupported
	CodeTimeout             = rpcerror.CodeTimeout
	CodePayloadTooLarge     = rpcerror.CodePayloadTooLarge
	CodeClientClosedRequest = rpcerror.CodeClientClosedRequest
	CodeInternalServerError = rpcerror.CodeInternalServerError
	CodeHTTPError           = rpcerror.CodeHTTPError

	HeaderCorrelationID      = runtimepkg.HeaderCorrelationID
	MetadataKeyCorrelationID = eventspkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = eventspkg.MetadataKeyEventSchema
	MetadataKeyContentType   = eventspkg.MetadataKeyContentType
)

var (
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogCallsMiddleware      = runtimepkg.LogCallsMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	CorrelationID           = runtimepkg.CorrelationID
	NewProcedureMetrics     = runtimepkg.NewProcedureMetrics

	// Call lifecycle hooks
	CallHooksMiddleware = runtimepkg.CallHooksMiddleware
	MergeCallHooks      = runtimepkg.MergeCallHooks
	LoggingHooks        = runtimepkg.LoggingHooks
	MetricsHooks        = runtimepkg.MetricsHooks
	AlertingHooks       = runtimepkg.AlertingHooks

	// Input parsers
	StringInput = procedurepkg.String
	ProtoInput  = procedurepkg.Proto

	// Errors
	NewError              = rpcerror.New
	NotFound              = rpcerror.NotFound
	Forbidden             = rpcerror.Forbidden
	Unauthenticated       = rpcerror.Unauthenticated
	Timeout               = rpcerror.Timeout
	BadRequest            = rpcerror.BadRequest
	InputValidation       = rpcerror.InputValidation
	HTTPError             = rpcerror.HTTPError
	HTTPUnauthorized      = rpcerror.HTTPUnauthorized
	HTTPForbidden         = rpcerror.HTTPForbidden
	HTTPNotFound          = rpcerror.HTTPNotFound
	HTTPBadRequest        = rpcerror.HTTPBadRequest
	HTTPRequestTimeout    = rpcerror.HTTPRequestTimeout
	ClassifyError         = rpcerror.Classify
	ClientErrorFrom       = rpcerror.From
	ClientErrorFromShape  = rpcerror.FromShape
	ClientErrorFromServer = rpcerror.FromServer

	// Subscriptions
	NewSubscription          = subscriptionpkg.New
	SubscriptionFromMessages = subscriptionpkg.FromMessages

	// Transformers
	JSONTransformer      = transformerpkg.JSON
	ProtoJSONTransformer = transformerpkg.ProtoJSON
	BothTransformers     = transformerpkg.Both

	// Client
	NewClient            = clientpkg.New
	NewClientFromConfig  = clientpkg.NewFromConfig
	StaticHeaders        = clientpkg.StaticHeaders
	WithOperationContext = clientpkg.WithOperationContext
	RetryDelay           = clientpkg.RetryDelay

	// Links
	ExecuteLinks       = linkpkg.Execute
	BindLinks          = linkpkg.Bind
	HTTPLink           = linkspkg.HTTPLink
	WebSocketLink      = linkspkg.WebSocketLink
	NewWebSocketClient = linkspkg.NewWebSocketClient
	RetryLink          = linkspkg.RetryLink
	SplitLink          = linkspkg.SplitLink
	LoggerLink         = linkspkg.LoggerLink
	IsSubscription     = linkspkg.IsSubscription

	// Event bus
	NewJSONEventMessage  = eventspkg.NewJSONMessage
	NewProtoEventMessage = eventspkg.NewProtoMessage
	EventMetadata        = eventspkg.Metadata

	// Modular transport registry. Every built-in transport registers itself
	// through the transports package imported above.
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrRouterRequired       = errspkg.ErrRouterRequired
	ErrMissingResolver      = errspkg.ErrMissingResolver
	ErrNoValidator          = errspkg.ErrNoValidator
	ErrDuplicateEndpoint    = errspkg.ErrDuplicateEndpoint
	ErrLinksRequired        = errspkg.ErrLinksRequired
	ErrOperationDone        = errspkg.ErrOperationDone
	ErrNotSubscription      = errspkg.ErrNotSubscription
	ErrEventBusDisabled     = errspkg.ErrEventBusDisabled
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrEventPayloadRequired = errspkg.ErrEventPayloadRequired
	ErrConnectionClosed     = errspkg.ErrConnectionClosed

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	NewMetadata      = metadatapkg.New
	MetadataFromHTTP = metadatapkg.FromHTTP

	CreateULID = idspkg.CreateULID
)

// NewService builds a Service serving r. See ServiceDependencies for the
// optional collaborators.
func NewService[C any](conf *Config, logger ServiceLogger, r *Router[C], deps ServiceDependencies[C]) (*Service, error) {
	return runtimepkg.NewService(conf, logger, r, deps)
}

// NewRouter returns an empty router for context type C.
func NewRouter[C any]() *Router[C] {
	return routerpkg.New[C]()
}

// NewProcedure builds a standalone procedure, mostly useful in tests.
func NewProcedure[C any](def Definition[C]) (*Procedure[C], error) {
	return procedurepkg.New(def)
}

// CallerLink resolves operations in process against r with context c.
func CallerLink[C any](r *Router[C], c C) Link {
	return linkspkg.CallerLink(r, c)
}

// DecodeInput accepts a T, a wire payload holding a T, or anything that
// converts to T through JSON.
func DecodeInput[T any]() ParseFunc {
	return procedurepkg.Decode[T]()
}

// ValidatedInput decodes into T and runs validate on the result.
func ValidatedInput[T any](validate func(T) error) Validator {
	return procedurepkg.Validated(validate)
}

func Query[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) (T, error) {
	return clientpkg.Query[T](ctx, c, path, input, opts...)
}

func Mutation[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) (T, error) {
	return clientpkg.Mutation[T](ctx, c, path, input, opts...)
}

// SubscriptionOnce fetches one batch of outputs, reconnecting on TIMEOUT.
func SubscriptionOnce[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) ([]T, error) {
	return clientpkg.SubscriptionOnce[T](ctx, c, path, input, opts...)
}

// Subscribe runs the client-side subscription loop until ctx ends, a done
// error arrives or the returned CancelFunc is called.
func Subscribe[In, Out any](ctx context.Context, c *Client, path string, opts SubscriptionOptions[In, Out]) CancelFunc {
	return clientpkg.Subscribe(ctx, c, path, opts)
}

// DecodeJSONEvent decodes event payloads into T.
func DecodeJSONEvent[T any]() EventDecoder {
	return eventspkg.DecodeJSON[T]()
}

// DecodeProtoEvent decodes protobuf JSON events into copies of prototype.
func DecodeProtoEvent[T proto.Message](prototype T) EventDecoder {
	return eventspkg.DecodeProto(prototype)
}

// Headers returns a HeadersFunc that forwards h on every request.
func Headers(h http.Header) HeadersFunc {
	return StaticHeaders(metadatapkg.FromHTTP(h))
}
