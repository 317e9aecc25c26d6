package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Relay           Category = "Relay"
	DirectLink      Category = "DirectLink"
	Store           Category = "Store"
	Session         Category = "Session"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"
	Connection      SubCategory = "Connection"
	Frame           SubCategory = "Frame"
	Fallback        SubCategory = "Fallback"
	Membership      SubCategory = "Membership"
	Delivery        SubCategory = "Delivery"
)

const (
	AppName      ExtraKey = "AppName"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoomCode     ExtraKey = "RoomCode"
	ConnectionID ExtraKey = "ConnectionId"
	MessageID    ExtraKey = "MessageId"
	PeerID       ExtraKey = "PeerId"
	Event        ExtraKey = "Event"
)
