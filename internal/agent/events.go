package agent

// Event is one outgoing message on the client event stream. The "type" key
// discriminates: text, text_done, status, widget, trial_cards, filters_update,
// report_ready, context_update, error, done.
type Event map[string]any

// Kind returns the event's type discriminator.
func (e Event) Kind() string {
	kind, _ := e["type"].(string)
	return kind
}

func textEvent(content string) Event {
	return Event{"type": "text", "content": content}
}

func textDoneEvent() Event {
	return Event{"type": "text_done"}
}

func statusEvent(phase, message string) Event {
	return Event{"type": "status", "phase": phase, "message": message}
}

func doneEvent() Event {
	return Event{"type": "done"}
}

// EmitFunc receives outgoing events in delivery order. Implementations must
// not block indefinitely; a slow consumer stalls the conversation loop.
type EmitFunc func(Event)
