package fleetprov

// RegisterThingTopicLength returns the length of the RegisterThing topic for a
// template name of the given length. It returns 0 if format or api is invalid.
func RegisterThingTopicLength(format Format, api APITopic, templateNameLength int) int {
	if !format.IsValid() || !api.IsValid() {
		return 0
	}
	return RegisterThingPrefixLength +
		templateNameLength +
		RegisterThingBridgeLength +
		len(format.Fragment()) +
		len(api.Suffix())
}

// GetRegisterThingTopic writes the RegisterThing topic for templateName into
// buf and returns the number of bytes written.
//
// len(buf) is the capacity available to the topic. Nothing is written when an
// error is returned, and no byte past the returned length is ever touched.
func GetRegisterThingTopic(buf []byte, format Format, api APITopic, templateName string) (int, error) {
	if buf == nil ||
		!format.IsValid() ||
		!api.IsValid() ||
		len(templateName) == 0 ||
		len(templateName) > TemplateNameMaxLength {
		return 0, ErrBadParameter
	}

	n := RegisterThingTopicLength(format, api, len(templateName))
	if len(buf) < n {
		return 0, ErrBufferTooSmall
	}

	// Capacity is checked above, so every append stays inside buf.
	out := buf[:0]
	out = append(out, RegisterThingPrefix...)
	out = append(out, templateName...)
	out = append(out, RegisterThingBridge...)
	out = append(out, format.Fragment()...)
	out = append(out, api.Suffix()...)

	return len(out), nil
}

// RegisterThingTopic returns the RegisterThing topic for templateName as a string.
func RegisterThingTopic(format Format, api APITopic, templateName string) (string, error) {
	buf := make([]byte, RegisterThingTopicLength(format, api, len(templateName)))
	n, err := GetRegisterThingTopic(buf, format, api, templateName)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Name renders t as a topic string. templateName is only used by
// RegisterThing topics.
func (t Topic) Name(templateName string) (string, error) {
	switch t.Operation() {
	case OperationCreateCertificateFromCsr:
		return CreateCertificateFromCsrPrefix + t.Format().Fragment() + t.API().Suffix(), nil
	case OperationCreateKeysAndCertificate:
		return CreateKeysAndCertificatePrefix + t.Format().Fragment() + t.API().Suffix(), nil
	case OperationRegisterThing:
		return RegisterThingTopic(t.Format(), t.API(), templateName)
	default:
		return "", ErrBadParameter
	}
}

// TopicSet holds the request topic of an operation and its two response topics.
type TopicSet struct {
	Publish  string
	Accepted string
	Rejected string
}

// Topics returns the topic strings used by one provisioning operation.
func Topics(op Operation, format Format, templateName string) (TopicSet, error) {
	var (
		set TopicSet
		err error
	)
	if set.Publish, err = TopicFor(op, format, APIPublish).Name(templateName); err != nil {
		return TopicSet{}, err
	}
	if set.Accepted, err = TopicFor(op, format, APIAccepted).Name(templateName); err != nil {
		return TopicSet{}, err
	}
	if set.Rejected, err = TopicFor(op, format, APIRejected).Name(templateName); err != nil {
		return TopicSet{}, err
	}
	return set, nil
}
