package retransmit

import (
	"errors"
	"testing"
	"time"
)

func TestArmFiresAfterDelay(t *testing.T) {
	delay := 40 * time.Millisecond
	c := New(delay, 0)

	start := time.Now()
	fired := c.Arm()
	select {
	case at := <-fired:
		if elapsed := at.Sub(start); elapsed < delay {
			t.Fatalf("timer fired early after %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestRearmReplacesTimer(t *testing.T) {
	c := New(30*time.Millisecond, 0)
	first := c.Arm()
	second := c.Arm()

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second timer never fired")
	}
	select {
	case <-first:
		t.Fatal("stopped timer should not fire")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDisarmStopsTimer(t *testing.T) {
	c := New(20*time.Millisecond, 0)
	fired := c.Arm()
	c.Disarm()
	select {
	case <-fired:
		t.Fatal("disarmed timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestArmedAtTracksLatestTransmission(t *testing.T) {
	c := New(time.Millisecond, 0)
	if !c.ArmedAt().IsZero() {
		t.Fatal("unarmed controller has an arm time")
	}
	c.Arm()
	first := c.ArmedAt()
	time.Sleep(2 * time.Millisecond)
	c.Arm()
	if !c.ArmedAt().After(first) {
		t.Fatal("re-arming did not move the arm time")
	}
	c.Advance()
	if !c.ArmedAt().IsZero() {
		t.Fatal("advance kept the arm time")
	}
}

func TestRetryBudget(t *testing.T) {
	unbounded := New(time.Millisecond, 0)
	for i := 0; i < 1000; i++ {
		if err := unbounded.RecordResend(); err != nil {
			t.Fatalf("unbounded controller refused resend %d: %v", i, err)
		}
	}

	bounded := New(time.Millisecond, 2)
	if err := bounded.RecordResend(); err != nil {
		t.Fatalf("resend 1: %v", err)
	}
	if err := bounded.RecordResend(); err != nil {
		t.Fatalf("resend 2: %v", err)
	}
	if err := bounded.RecordResend(); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("resend 3: expected ErrRetriesExhausted, got %v", err)
	}

	bounded.Advance()
	if bounded.Attempts() != 0 {
		t.Fatalf("advance should reset attempts, got %d", bounded.Attempts())
	}
	if bounded.Resends() != 2 {
		t.Fatalf("total resends should survive advance, got %d", bounded.Resends())
	}
	if err := bounded.RecordResend(); err != nil {
		t.Fatalf("resend after advance: %v", err)
	}
}

func TestDefaultDelay(t *testing.T) {
	if d := New(0, 0).Delay(); d != 50*time.Millisecond {
		t.Fatalf("default delay = %v", d)
	}
}
