package reconciler

import (
	"testing"

	"github.com/rcourtman/buttonclicker/pkg/purchasing"
)

func TestSubscriptionActive(t *testing.T) {
	end := ptr(date(15))
	tests := []struct {
		name    string
		periods []purchasing.SubscriptionPeriod
		want    bool
	}{
		{"empty", nil, false},
		{"one open", []purchasing.SubscriptionPeriod{*period(date(1), nil)}, true},
		{"one closed", []purchasing.SubscriptionPeriod{*period(date(1), end)}, false},
		{"older open, newer closed", []purchasing.SubscriptionPeriod{*period(date(1), nil), *period(date(5), end)}, false},
		{"older closed, newer open", []purchasing.SubscriptionPeriod{*period(date(1), end), *period(date(5), nil)}, true},
		{"tie all open", []purchasing.SubscriptionPeriod{*period(date(5), nil), *period(date(5), nil)}, true},
		{"tie one closed", []purchasing.SubscriptionPeriod{*period(date(5), nil), *period(date(5), end)}, false},
		{"order independent", []purchasing.SubscriptionPeriod{*period(date(5), nil), *period(date(1), end)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subscriptionActive(tt.periods); got != tt.want {
				t.Fatalf("subscriptionActive() = %v, want %v", got, tt.want)
			}
		})
	}
}
