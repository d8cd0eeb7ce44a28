package slackbot

import (
	"sync/atomic"
	"testing"
)

func TestPoolBoundsQueueAndDrains(t *testing.T) {
	p := NewPool("test", 1, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Int32

	if err := p.Submit(func() { close(started); <-release; done.Add(1) }); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-started
	if err := p.Submit(func() { done.Add(1) }); err != nil {
		t.Fatalf("queued submit: %v", err)
	}
	if err := p.Submit(func() { done.Add(1) }); err == nil {
		t.Fatal("submit beyond queue capacity should fail")
	}
	close(release)
	p.Close()
	if done.Load() != 2 {
		t.Fatalf("done = %d, want 2", done.Load())
	}
	if err := p.Submit(func() {}); err == nil {
		t.Fatal("submit after close should fail")
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := NewPool("test", 1, 4)
	var ran atomic.Bool
	_ = p.Submit(func() { panic("bad task") })
	_ = p.Submit(func() { ran.Store(true) })
	p.Close()
	if !ran.Load() {
		t.Fatal("worker should keep running after a panic")
	}
}
