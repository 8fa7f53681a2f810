package vision

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"
)

func solid(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestSlotNextIsNonBlocking(t *testing.T) {
	slot := NewSlot()

	if _, ok := slot.Next(0); ok {
		t.Fatal("Empty slot should have no frame")
	}

	slot.Publish(solid(4, 4, 10), time.Now())
	f, ok := slot.Next(0)
	if !ok || f.Seq != 1 {
		t.Fatalf("Expected frame 1, got %d (ok=%v)", f.Seq, ok)
	}

	if _, ok := slot.Next(f.Seq); ok {
		t.Error("Next should not return an already consumed frame")
	}
}

func TestSlotDropsUnconsumedFrames(t *testing.T) {
	slot := NewSlot()

	for i := 0; i < 4; i++ {
		slot.Publish(solid(4, 4, uint8(i)), time.Now())
	}

	f, ok := slot.Next(0)
	if !ok {
		t.Fatal("Expected a frame")
	}
	if f.Seq != 4 {
		t.Errorf("Expected newest frame 4, got %d", f.Seq)
	}
	if f.Image.Pix[0] != 3 {
		t.Errorf("Expected newest pixels, got %d", f.Image.Pix[0])
	}
	if slot.Dropped() != 3 {
		t.Errorf("Expected 3 dropped frames, got %d", slot.Dropped())
	}
}

func TestSlotWait(t *testing.T) {
	slot := NewSlot()
	slot.Publish(solid(4, 4, 1), time.Now())

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Publish(solid(4, 4, 2), time.Now())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := slot.Wait(ctx, 1)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if f.Seq != 2 {
		t.Errorf("Expected frame 2, got %d", f.Seq)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, err := slot.Wait(short, 2); err == nil {
		t.Error("Expected timeout waiting for a frame that never comes")
	}
}

func TestMotionGate(t *testing.T) {
	gate := NewMotionGate(0, 0, 0)
	defer gate.Close()

	still := solid(200, 200, 120)

	stable, err := gate.Stable(still)
	if err != nil {
		t.Fatalf("Stable failed: %v", err)
	}
	if stable {
		t.Error("First frame should not be reported stable")
	}

	stable, _ = gate.Stable(still)
	if !stable {
		t.Error("Identical frames should be stable")
	}

	hand := solid(200, 200, 120)
	for y := 40; y < 140; y++ {
		for x := 40; x < 140; x++ {
			hand.SetGray(x, y, color.Gray{Y: 250})
		}
	}

	stable, _ = gate.Stable(hand)
	if stable {
		t.Error("Large bright blob should be reported as motion")
	}
}
