package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// Example: "$aws/certificates/create/json/+" matches both response topics.
	Wildcard = "+"

	// Separator delimits topic levels.
	Separator = "/"
)
