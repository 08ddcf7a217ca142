package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan PipelineStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e PipelineStateChangedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(PipelineStateChangedEvent{State: "running", Previous: "starting", Streaming: true})

	got := <-received
	if got.State != "running" || got.Previous != "starting" || !got.Streaming {
		t.Errorf("got %+v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan EncoderFailureEvent, 1)

	unsub := bus.Subscribe(func(e EncoderFailureEvent) {
		received <- e
	})

	bus.Publish(EncoderFailureEvent{Encoder: "h264_vaapi"})
	<-received

	unsub()

	bus.Publish(EncoderFailureEvent{Encoder: "libx264"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	formats := make(chan bool, 1)
	detections := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FormatChangedEvent) { formats <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(_ DetectionEvent) { detections <- true })
	defer unsub2()

	bus.Publish(FormatChangedEvent{Codec: "h264"})
	<-formats

	select {
	case <-detections:
		t.Fatal("Detection subscriber should NOT have received FormatChangedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DetectionEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(DetectionEvent{Detector: "test"})
			}
		}()
	}
	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestStreamDropsWhenFull(t *testing.T) {
	bus := New()
	stream := NewStream(1)
	Forward[LogEntryEvent](stream, bus)
	defer stream.Close()

	bus.Publish(LogEntryEvent{Seq: 1})
	bus.Publish(LogEntryEvent{Seq: 2})
	time.Sleep(50 * time.Millisecond)

	select {
	case e := <-stream.C():
		if e.(LogEntryEvent).Seq != 1 {
			t.Errorf("got seq %d, want 1", e.(LogEntryEvent).Seq)
		}
	default:
		t.Fatal("no event delivered")
	}
	select {
	case <-stream.C():
		t.Error("second event should have been dropped")
	default:
	}
	if n := stream.Dropped(); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
}

func TestStreamMergesTypesUntilClosed(t *testing.T) {
	bus := New()
	stream := NewStream(8)
	Forward[FormatChangedEvent](stream, bus)
	Forward[CaptureFailureEvent](stream, bus)

	bus.Publish(FormatChangedEvent{Codec: "h264"})
	bus.Publish(CaptureFailureEvent{Source: "synthetic"})
	bus.Publish(DetectionEvent{Detector: "ignored"})

	got := map[uint32]bool{}
	for range 2 {
		select {
		case e := <-stream.C():
			got[e.(Event).Type()] = true
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}
	if !got[TypeFormatChanged] || !got[TypeCaptureFailure] {
		t.Errorf("got %v", got)
	}

	stream.Close()
	bus.Publish(FormatChangedEvent{Codec: "h264"})
	select {
	case e := <-stream.C():
		t.Errorf("event %v after Close", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDetectionEventJSON(t *testing.T) {
	data, err := json.Marshal(DetectionEvent{
		Detector: "luma-blob",
		FrameSeq: 7,
		Boxes:    []DetectionBox{{X: 1, Y: 2, Width: 3, Height: 4, Confidence: 0.5}},
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	boxes, ok := result["boxes"].([]any)
	if !ok || len(boxes) != 1 {
		t.Errorf("boxes = %v", result["boxes"])
	}
}
