package utils

import (
	"context"
	"testing"
	"time"
)

func TestPtr(t *testing.T) {
	p := Ptr(42)
	if p == nil || *p != 42 {
		t.Errorf("expected pointer to 42, got %v", p)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	recovered := make(chan interface{}, 1)
	prev := PanicHandler
	PanicHandler = func(ctx context.Context, r interface{}, stack []byte) { recovered <- r }
	defer func() { PanicHandler = prev }()

	Go(context.Background(), func() { panic("boom") })

	select {
	case r := <-recovered:
		if r != "boom" {
			t.Errorf("expected boom, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("panic was not recovered")
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"", true},
		{"  ", true},
		{"\t\n", true},
		{"guild-1", false},
		{" channel ", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := IsEmpty(tt.input); result != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, result)
			}
		})
	}
}
