package bus

import (
	"testing"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

func TestPublish_DeliversToSubscriberAndTap(t *testing.T) {
	// A published message reaches subscribers of its type and every tap
	b := New()
	sub := b.Subscribe(types.MsgSampleBuilt)
	tap1 := b.NewTap()
	tap2 := b.NewTap()

	b.Emit(types.RoleDataset, types.RoleArchive, types.MsgSampleBuilt, types.SampleBuilt{Index: 3})

	for name, ch := range map[string]<-chan types.Message{"sub": sub, "tap1": tap1, "tap2": tap2} {
		select {
		case msg := <-ch:
			if msg.Type != types.MsgSampleBuilt {
				t.Errorf("%s: expected SampleBuilt, got %s", name, msg.Type)
			}
		default:
			t.Errorf("%s: expected a message", name)
		}
	}
}

func TestPublish_AssignsIDAndTimestamp(t *testing.T) {
	// Publish fills a missing ID and timestamp
	b := New()
	tap := b.NewTap()
	b.Publish(types.Message{Type: types.MsgRunFinished})
	msg := <-tap
	if msg.ID == "" {
		t.Error("expected non-empty ID")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestPublish_OtherTypesNotDelivered(t *testing.T) {
	// Subscribers only receive their own message type
	b := New()
	sub := b.Subscribe(types.MsgKernelBuilt)
	b.Emit(types.RoleDataset, types.RoleKernel, types.MsgDatasetReady, types.DatasetReady{})
	select {
	case msg := <-sub:
		t.Errorf("expected no delivery, got %s", msg.Type)
	default:
	}
}

func TestPublish_FullSubscriberDoesNotBlock(t *testing.T) {
	// A full subscriber channel drops the message instead of blocking
	b := New()
	_ = b.Subscribe(types.MsgSampleBuilt)
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Emit(types.RoleDataset, types.RoleArchive, types.MsgSampleBuilt, nil)
	}
}

func TestPublish_NilBusIsNoop(t *testing.T) {
	// Publishing on a nil Bus does nothing
	var b *Bus
	b.Emit(types.RoleUser, types.RoleDataset, types.MsgRunStarted, nil)
}
