package models

import "testing"

func TestStatusFromOpenAlerts(t *testing.T) {
	cases := []struct {
		name string
		open map[string]int
		want string
	}{
		{"no open alerts", nil, DeviceStatusOK},
		{"info only", map[string]int{SeverityInfo: 2}, DeviceStatusOK},
		{"warning", map[string]int{SeverityWarning: 1}, DeviceStatusWarning},
		{"critical beats warning", map[string]int{SeverityWarning: 3, SeverityCritical: 1}, DeviceStatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFromOpenAlerts(tc.open); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
