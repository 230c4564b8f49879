package session

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"chatline/internal/adapter/stream"
	"chatline/internal/domain"
	"chatline/internal/infra/tracer"
)

const (
	// NoTextualResponse is the text of a reply that finished without any text.
	NoTextualResponse = "No textual response."

	failurePrefix = "Failed to send message: "
)

// SendMessage sends text on the active conversation, creating one when
// none is active, and streams the reply into an assistant placeholder.
//
// Empty text, a read-only conversation, an unresolvable bot and a send
// already in flight are rejected before any message is added. Any later
// failure is rendered into the placeholder and then returned.
func (s *Store) SendMessage(ctx context.Context, text string) (err error) {
	const op = "session.SendMessage"
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.WrapOp(op, domain.ErrEmptyMessage)
	}
	if !s.sending.CompareAndSwap(false, true) {
		return domain.WrapOp(op, domain.ErrSendInProgress)
	}
	defer s.sending.Store(false)

	ctx, span := tracer.StartSpan(ctx, "session.send")
	defer func() { tracer.Finish(span, err) }()

	conversationID, err := s.ensureActiveConversation(ctx)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	span.SetAttributes(tracer.StringAttr("conversation.id", conversationID))

	user, target, err := s.appendExchange(conversationID, text)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	s.publish(ctx, domain.EventMessageAppended, conversationID, user)
	s.publish(ctx, domain.EventMessageAppended, conversationID, target)

	reply, err := s.consume(ctx, span, conversationID, target.ID, text)
	if err != nil {
		s.deps.Logger.Warn("send failed",
			"conversation", conversationID,
			"code", string(domain.ErrorCodeOf(err)),
			"error", err,
		)
		s.update(ctx, conversationID, target.ID, failurePrefix+domain.Reason(err), domain.StateComplete)
		s.publish(ctx, domain.EventSendFailed, conversationID, map[string]string{
			"message_id": target.ID,
			"code":       string(domain.ErrorCodeOf(err)),
			"error":      domain.Reason(err),
		})
		return domain.WrapOp(op, err)
	}

	s.finalize(ctx, conversationID, target.ID, reply)
	s.touch(ctx, conversationID)
	return nil
}

// ensureActiveConversation returns the active conversation id, creating a
// conversation for the current bot when none is active.
func (s *Store) ensureActiveConversation(ctx context.Context) (string, error) {
	if id := s.ActiveConversationID(); id != "" {
		if s.ActiveReadOnly() {
			return "", domain.ErrReadOnlyConversation
		}
		return id, nil
	}
	botID := s.BotID()
	if botID == "" {
		botID = s.ensureBot(ctx)
	}
	if botID == "" {
		return "", domain.ErrBotNotReady
	}
	conv, err := s.create(ctx, botID)
	if err != nil {
		return "", err
	}
	if conv.ReadOnly() {
		return "", domain.ErrReadOnlyConversation
	}
	return conv.ID, nil
}

// reply is what the stream produced for one send.
type reply struct {
	streamed string
	end      *domain.AgentEnd // last aggregate seen, nil when none
}

// consume opens the stream and applies each event to the target message.
// A StreamError ends consumption as a *domain.ProtocolError.
func (s *Store) consume(ctx context.Context, span trace.Span, conversationID, targetID, query string) (reply, error) {
	body, err := s.deps.Transport.OpenStream(ctx, conversationID, query)
	if err != nil {
		return reply{}, err
	}
	defer body.Close()

	var (
		streamed strings.Builder
		end      *domain.AgentEnd
		deltas   int
	)
	err = stream.Decode(ctx, body, func(ev domain.ChatEvent) error {
		switch ev := ev.(type) {
		case domain.TextDelta:
			if ev.Delta == "" {
				return nil
			}
			deltas++
			streamed.WriteString(ev.Delta)
			s.update(ctx, conversationID, targetID, streamed.String(), domain.StateGenerating)
		case domain.AgentEnd:
			end = &ev
		case domain.StreamError:
			return &domain.ProtocolError{Message: ev.Message}
		case domain.Ignored:
		}
		return nil
	})
	span.SetAttributes(tracer.IntAttr("stream.deltas", deltas))
	if err != nil {
		return reply{}, err
	}
	if end != nil {
		span.SetAttributes(
			tracer.StringAttr("stream.model", end.Model),
			tracer.StringAttr("stream.provider", end.Provider),
		)
	}
	return reply{streamed: streamed.String(), end: end}, nil
}

// finalize completes the target message. Streamed text wins over the
// aggregate; extra assistant texts of the aggregate follow as their own
// messages.
func (s *Store) finalize(ctx context.Context, conversationID, targetID string, r reply) {
	if text := strings.TrimSpace(r.streamed); text != "" {
		s.update(ctx, conversationID, targetID, text, domain.StateComplete)
		return
	}

	var texts []string
	if r.end != nil {
		texts = domain.AssistantTexts(r.end.Messages)
	}
	if len(texts) == 0 {
		s.update(ctx, conversationID, targetID, NoTextualResponse, domain.StateComplete)
		return
	}

	if !s.update(ctx, conversationID, targetID, texts[0], domain.StateComplete) {
		return
	}
	for _, text := range texts[1:] {
		msg, ok := s.appendAssistant(conversationID, text)
		if !ok {
			return
		}
		s.publish(ctx, domain.EventMessageAppended, conversationID, msg)
	}
}

// update patches the target message and publishes the change.
func (s *Store) update(ctx context.Context, conversationID, id, text string, state domain.MessageState) bool {
	msg, ok := s.patch(conversationID, id, text, state)
	if ok {
		s.publish(ctx, domain.EventMessageUpdated, conversationID, msg)
	}
	return ok
}
