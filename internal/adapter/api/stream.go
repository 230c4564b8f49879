package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"chatline/internal/domain"
	"chatline/internal/infra/tracer"
)

type streamRequest struct {
	Query          string   `json:"query"`
	CurrentChannel string   `json:"current_channel"`
	Channels       []string `json:"channels"`
}

// OpenStream implements domain.StreamTransport. The returned body must be
// closed; closing it early abandons the stream. The api.stream span stays
// open until then.
func (c *Client) OpenStream(ctx context.Context, conversationID, query string) (io.ReadCloser, error) {
	path := "/chats/" + url.PathEscape(conversationID) + "/messages/stream"
	ctx, span := tracer.StartSpan(ctx, "api.stream", trace.WithAttributes(
		tracer.StringAttr("conversation.id", conversationID),
	))

	body := streamRequest{
		Query:          query,
		CurrentChannel: c.channel,
		Channels:       []string{c.channel},
	}
	resp, err := c.do(ctx, http.MethodPost, path, body, "text/event-stream", "Stream request failed: %d")
	if err != nil {
		tracer.Finish(span, err)
		return nil, domain.WrapOp("open stream", err)
	}
	span.SetAttributes(tracer.IntAttr("http.status", resp.StatusCode))

	if resp.Body == nil || resp.Body == http.NoBody || resp.StatusCode == http.StatusNoContent {
		if resp.Body != nil {
			resp.Body.Close()
		}
		err := &domain.TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Stream request failed: %d (empty body)", resp.StatusCode),
		}
		tracer.Finish(span, err)
		return nil, domain.WrapOp("open stream", err)
	}

	return &tracedBody{ReadCloser: resp.Body, span: span}, nil
}

// tracedBody ends the stream span when the body is closed.
type tracedBody struct {
	io.ReadCloser
	span trace.Span
	n    int
	once sync.Once
}

func (b *tracedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += n
	return n, err
}

func (b *tracedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		b.span.SetAttributes(tracer.IntAttr("stream.bytes", b.n))
		tracer.Finish(b.span, nil)
	})
	return err
}
