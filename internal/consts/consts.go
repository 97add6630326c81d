package consts

const (
	SSEEventPrefix = "event: "
	SSEDataPrefix  = "data: "
	SSEFrameEnd    = "\n\n"

	EventsRoute  = "/api/tasks/events"
	HealthzRoute = "/healthz"

	OwnerQueryParam = "userId"
	TokenQueryParam = "token"

	BoardKeyPrefix  = "board:"
	DedupeKeyPrefix = "relay-dedupe:"
)
