package fleetprov

// topicInput is the set of types a topic can be matched from without copying.
type topicInput interface {
	~string | ~[]byte
}

// cursor is a read position over a topic. Consuming returns a new cursor; a
// failed consume hands back the original one.
type cursor[T topicInput] struct {
	in  T
	off int
}

func (c cursor[T]) remaining() int {
	return len(c.in) - c.off
}

func (c cursor[T]) done() bool {
	return c.off == len(c.in)
}

// consume advances past lit if the input continues with it.
func (c cursor[T]) consume(lit string) (cursor[T], bool) {
	if c.remaining() < len(lit) {
		return c, false
	}
	for i := 0; i < len(lit); i++ {
		if c.in[c.off+i] != lit[i] {
			return c, false
		}
	}
	return cursor[T]{in: c.in, off: c.off + len(lit)}, true
}

// consumeLevel advances past a non-empty run of bytes ending before the next
// '/' or the end of input.
func (c cursor[T]) consumeLevel() (cursor[T], bool) {
	i := c.off
	for i < len(c.in) && c.in[i] != '/' {
		i++
	}
	if i == c.off {
		return c, false
	}
	return cursor[T]{in: c.in, off: i}, true
}

// Match is the result of ParseTopic.
type Match struct {
	Topic Topic

	// TemplateName is the provisioning template name of a RegisterThing topic.
	// It shares memory with the parsed topic.
	TemplateName string
}

// MatchTopic classifies topic as one of the provisioning topics.
// Topics that are not exactly one of them yield (InvalidTopic, ErrNoMatch).
func MatchTopic(topic string) (Topic, error) {
	t, _, _ := match(topic)
	if !t.IsValid() {
		return InvalidTopic, ErrNoMatch
	}
	return t, nil
}

// MatchTopicBytes is MatchTopic for a topic held in a byte slice.
// A nil slice is a bad parameter; an empty non-nil slice simply does not match.
func MatchTopicBytes(topic []byte) (Topic, error) {
	if topic == nil {
		return InvalidTopic, ErrBadParameter
	}
	t, _, _ := match(topic)
	if !t.IsValid() {
		return InvalidTopic, ErrNoMatch
	}
	return t, nil
}

// ParseTopic classifies topic like MatchTopic and also reports the template
// name carried by RegisterThing topics.
func ParseTopic(topic string) (Match, error) {
	t, start, end := match(topic)
	if !t.IsValid() {
		return Match{}, ErrNoMatch
	}
	return Match{Topic: t, TemplateName: topic[start:end]}, nil
}

// match runs the prefix cascade. For RegisterThing topics it also returns the
// bounds of the template name.
func match[T topicInput](topic T) (Topic, int, int) {
	c := cursor[T]{in: topic}

	if rest, ok := c.consume(CreateCertificateFromCsrPrefix); ok {
		if t := matchFormat(rest, OperationCreateCertificateFromCsr); t.IsValid() {
			return t, 0, 0
		}
	}

	if rest, ok := c.consume(CreateKeysAndCertificatePrefix); ok {
		if t := matchFormat(rest, OperationCreateKeysAndCertificate); t.IsValid() {
			return t, 0, 0
		}
	}

	if rest, start, end, ok := consumeRegisterThingPrefix(c); ok {
		if t := matchFormat(rest, OperationRegisterThing); t.IsValid() {
			return t, start, end
		}
	}

	return InvalidTopic, 0, 0
}

// consumeRegisterThingPrefix consumes "$aws/provisioning-templates/{name}/provision/".
func consumeRegisterThingPrefix[T topicInput](c cursor[T]) (cursor[T], int, int, bool) {
	c, ok := c.consume(RegisterThingPrefix)
	if !ok {
		return c, 0, 0, false
	}

	start := c.off
	if c, ok = c.consumeLevel(); !ok {
		return c, 0, 0, false
	}
	end := c.off

	if c, ok = c.consume(RegisterThingBridge); !ok {
		return c, 0, 0, false
	}
	return c, start, end, true
}

// matchFormat matches the format fragment and the response suffix that end
// every provisioning topic.
func matchFormat[T topicInput](c cursor[T], op Operation) Topic {
	if rest, ok := c.consume(FormatJSONFragment); ok {
		return TopicFor(op, FormatJSON, matchSuffix(rest))
	}
	if rest, ok := c.consume(FormatCBORFragment); ok {
		return TopicFor(op, FormatCBOR, matchSuffix(rest))
	}
	return InvalidTopic
}

// matchSuffix returns the APITopic for the rest of the input, or 0 if the
// rest is not exactly one of the suffixes.
func matchSuffix[T topicInput](c cursor[T]) APITopic {
	if c.done() {
		return APIPublish
	}
	if rest, ok := c.consume(AcceptedSuffix); ok && rest.done() {
		return APIAccepted
	}
	if rest, ok := c.consume(RejectedSuffix); ok && rest.done() {
		return APIRejected
	}
	return 0
}
