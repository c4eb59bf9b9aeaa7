package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/mailer"
)

type fakeSender struct {
	got  mailer.Message
	res  *mailer.Result
	err  error
	sent bool
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) (*mailer.Result, error) {
	f.got = msg
	f.sent = true
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func TestSendMapsResult(t *testing.T) {
	sender := &fakeSender{res: &mailer.Result{
		MessageID: "<id-1@test>",
		Accepted:  []string{"a@example.test"},
		Rejected:  []string{"b@example.test"},
	}}

	out, err := execute(context.Background(), map[string]any{
		"to":      []any{"a@example.test", "b@example.test"},
		"subject": "hello",
		"text":    "body",
		"from":    "noreply@example.test",
	}, sender)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.test", "b@example.test"}, sender.got.To)
	assert.Equal(t, "hello", sender.got.Subject)
	assert.Equal(t, "noreply@example.test", sender.got.From)

	result := out.(map[string]any)
	assert.Equal(t, "<id-1@test>", result["messageId"])
	assert.Equal(t, []any{"a@example.test"}, result["accepted"])
	assert.Equal(t, []any{"b@example.test"}, result["rejected"])
}

func TestSendAcceptsSingleRecipientString(t *testing.T) {
	sender := &fakeSender{res: &mailer.Result{MessageID: "<x@test>", Accepted: []string{"solo@example.test"}}}

	_, err := execute(context.Background(), map[string]any{
		"to":      "solo@example.test",
		"subject": "hi",
		"html":    "<p>hi</p>",
	}, sender)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo@example.test"}, sender.got.To)
	assert.Equal(t, "<p>hi</p>", sender.got.HTML)
}

func TestSendValidation(t *testing.T) {
	cases := []map[string]any{
		{},
		{"to": "a@example.test"},
		{"to": "a@example.test", "subject": "s"},
		{"subject": "s", "text": "t"},
	}
	for _, params := range cases {
		sender := &fakeSender{}
		_, err := execute(context.Background(), params, sender)
		require.Error(t, err)
		assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
		assert.False(t, sender.sent)
	}
}

func TestSendPropagatesSendFailure(t *testing.T) {
	sender := &fakeSender{err: core.Executionf("smtp rejected all 1 recipients")}
	_, err := execute(context.Background(), map[string]any{
		"to":      "a@example.test",
		"subject": "s",
		"text":    "t",
	}, sender)
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeExecution, core.Classify(err))
}
