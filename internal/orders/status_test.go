package orders

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, false},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
	if StatusPending.Terminal() || !StatusConfirmed.Terminal() || !StatusCancelled.Terminal() {
		t.Errorf("only confirmed and cancelled are terminal")
	}
	if _, ok := ParseStatus("SHIPPED"); ok {
		t.Errorf("unknown status must not parse")
	}
}
