package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_RoutesByChannel(t *testing.T) {
	var got []string
	r := NewRouter()
	r.Handle(ChannelSMS, NotifierFunc(func(_ context.Context, c Channel, target string, msg Message) error {
		got = append(got, string(c)+":"+target+":"+msg.Body)
		return nil
	}))

	require.NoError(t, r.Send(context.Background(), ChannelSMS, " +33600 ", Message{Body: "hi"}))
	assert.Equal(t, []string{"sms:+33600:hi"}, got)

	err := r.Send(context.Background(), ChannelEmail, "a@b.c", Message{})
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Len(t, r.Channels(), 1)
}

func TestRouter_EmptyTarget(t *testing.T) {
	r := NewRouter()
	err := r.Send(context.Background(), ChannelSMS, "", Message{})
	assert.ErrorIs(t, err, ErrDeliveryFailure)
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("gateway 503")
	err := fmtWrap(&DeliveryError{Channel: ChannelEmail, Target: "x@y.z", Temporary: true, Err: cause})
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.ErrorIs(t, err, cause)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.Temporary)
	assert.Contains(t, err.Error(), "x@y.z")
}

func fmtWrap(err error) error { return errors.Join(errors.New("job"), err) }
