package grpcdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witnessd/internal/dispatch"
	"witnessd/internal/events"
	"witnessd/internal/session"
)

func TestEventToStructRoundTrip(t *testing.T) {
	ev := dispatch.Event{
		Code:      events.Catch,
		Flags:     events.FlagExceptional,
		String:    "pkg.A.run()V",
		ObjectRef: "obj-1",
		ClassRef:  "java.lang.Exception",
	}

	got := eventFromStruct(EventToStruct(ev))
	assert.Equal(t, ev, got)
}

func TestEventFromStructHandlesNil(t *testing.T) {
	assert.Equal(t, dispatch.Event{}, eventFromStruct(nil))
}

func TestServerPublishFansOutToDispatcher(t *testing.T) {
	d := dispatch.New(session.New(), nil, nil)
	received := make(chan dispatch.Event, 1)
	cancel := d.Subscribe(context.Background(), dispatch.ListenerFunc(func(_ context.Context, ev dispatch.Event) {
		received <- ev
	}))
	defer cancel()

	srv := NewServer(d)
	ev := dispatch.Event{Code: events.Catch, ClassRef: "java.lang.Exception"}
	_, err := srv.Publish(context.Background(), EventToStruct(ev))
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, ev.Code, got.Code)
		assert.Equal(t, ev.ClassRef, got.ClassRef)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
