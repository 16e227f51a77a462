package messaging

// Default topics
const (
	TopicHeartbeats         = "node.heartbeats"    // edge nodes → chaindistd
	TopicCoordinationEvents = "oracle.submissions" // chaindistd → audit consumers
)
