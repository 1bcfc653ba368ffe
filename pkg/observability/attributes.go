package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attributes for operation execution telemetry.
var (
	AttrConnectorID  = attribute.Key("conduit.connector.id")
	AttrOperationID  = attribute.Key("conduit.operation.id")
	AttrConnectionID = attribute.Key("conduit.connection.id")
	AttrOrganization = attribute.Key("conduit.organization.id")

	AttrExecutionID     = attribute.Key("conduit.execution.id")
	AttrExecutionStatus = attribute.Key("conduit.execution.status")
	AttrRetryAttempt    = attribute.Key("conduit.retry.attempt")

	AttrRateLimitScope = attribute.Key("conduit.ratelimit.scope")
	AttrFailureKind    = attribute.Key("conduit.failure.kind")
)
