package topic

import (
	"errors"
	"testing"
)

func TestRegister_Normalizes(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Descriptor{Topic: "  Plan.Deliver ", Mode: ModeShared}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	desc, err := r.Get("plan.deliver")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if desc.Topic != "plan.deliver" {
		t.Errorf("expected normalized topic name, got %q", desc.Topic)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Descriptor{Topic: "plan.deliver", Mode: ModeShared}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(Descriptor{Topic: "PLAN.DELIVER", Mode: ModeBroadcast})
	if !errors.Is(err, ErrDuplicateTopic) {
		t.Errorf("expected ErrDuplicateTopic, got %v", err)
	}
}

func TestRegister_InvalidMode(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Descriptor{Topic: "plan.deliver", Mode: "multicast"})
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestGet_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	if !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestAll_Sorted(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(Descriptor{Topic: name, Mode: ModeShared}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(all))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, desc := range all {
		if desc.Topic != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, desc.Topic, want[i])
		}
	}
}
