package matrix

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/kokoro/internal/kokoro/processor"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// ReplyOutputName is the output processors suggest to answer in the room
// the content came from.
const ReplyOutputName = "matrix.reply"

// ErrWrongPlatform is returned when a reply is requested for content that
// did not come from Matrix.
var ErrWrongPlatform = errors.New("matrix: content is not from matrix")

var replySchema = schema.MustNew("matrix_reply", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"body":   map[string]any{"type": "string", "minLength": 1},
		"notice": map[string]any{"type": "boolean"},
	},
	"required":             []string{"body"},
	"additionalProperties": false,
})

// ReplyOutput describes matrix.reply for the output registry.
func ReplyOutput() processor.Output {
	return processor.Output{
		Name:        ReplyOutputName,
		Description: "Reply in the Matrix room the content came from. Set notice for informational answers.",
		Schema:      replySchema,
	}
}

var _ processor.Sink = (*Client)(nil)

// Deliver implements processor.Sink for matrix.reply. The reply threads
// onto the source event when one is known.
func (c *Client) Deliver(ctx context.Context, out processor.SuggestedOutput, io processor.IOContext) error {
	if io.Platform != Platform {
		return fmt.Errorf("%w: %q", ErrWrongPlatform, io.Platform)
	}
	body, _ := out.Data["body"].(string)
	if body == "" {
		return errors.New("matrix: reply without body")
	}
	notice, _ := out.Data["notice"].(bool)
	return c.Reply(ctx, io.PlatformID, io.SourceID, body, notice)
}
