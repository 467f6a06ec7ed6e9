package clock

import (
	"testing"
	"time"
)

func TestFakeAfterAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	fired := <-c.After(2 * time.Second)
	if !fired.Equal(start.Add(2 * time.Second)) {
		t.Errorf("fired at %v, want %v", fired, start.Add(2*time.Second))
	}
	<-c.After(0)
	c.Advance(time.Minute)
	if got := c.Now(); !got.Equal(start.Add(time.Minute + 2*time.Second)) {
		t.Errorf("Now = %v", got)
	}

	waits := c.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 0 {
		t.Errorf("Waits = %v", waits)
	}
}

func TestRealAfterZero(t *testing.T) {
	select {
	case <-Real().After(0):
	case <-time.After(time.Second):
		t.Fatal("After(0) did not fire")
	}
}
