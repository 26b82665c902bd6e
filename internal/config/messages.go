package config

// TopicPair is one published control message: a topic and its literal payload.
type TopicPair struct {
	Topic   string
	Payload string
}

// StartMessage returns the configured press-start message.
func (c *Config) StartMessage() TopicPair {
	return TopicPair{Topic: c.Topics.Start, Payload: c.Topics.StartPayload}
}

// StopMessage returns the configured press-end message.
func (c *Config) StopMessage() TopicPair {
	return TopicPair{Topic: c.Topics.Stop, Payload: c.Topics.StopPayload}
}
