package models

import "testing"

func TestSubscriptionFilter_Matches(t *testing.T) {
	record := &Record{
		Category: CategoryAPI,
		Level:    LevelWarn,
		Source:   "billing",
		Message:  "request timeout after 30s",
	}

	tests := []struct {
		name     string
		filter   SubscriptionFilter
		dataJSON string
		want     bool
	}{
		{name: "empty filter", filter: SubscriptionFilter{}, want: true},
		{name: "category allowed", filter: SubscriptionFilter{Categories: []string{"AUTH", "API"}}, want: true},
		{name: "category absent", filter: SubscriptionFilter{Categories: []string{"AUTH"}}, want: false},
		{name: "level absent", filter: SubscriptionFilter{Levels: []string{"ERROR"}}, want: false},
		{name: "source allowed", filter: SubscriptionFilter{Sources: []string{"billing"}}, want: true},
		{name: "source absent", filter: SubscriptionFilter{Sources: []string{"gateway"}}, want: false},
		{name: "search in message ignores case", filter: SubscriptionFilter{Search: "TIMEOUT"}, want: true},
		{name: "search in data", filter: SubscriptionFilter{Search: "tenant-7"}, dataJSON: `{"tenant":"tenant-7"}`, want: true},
		{name: "search missing", filter: SubscriptionFilter{Search: "disk"}, dataJSON: `{"tenant":"tenant-7"}`, want: false},
		{
			name:   "conjunction with one failing predicate",
			filter: SubscriptionFilter{Categories: []string{"API"}, Levels: []string{"WARN"}, Search: "connected"},
			want:   false,
		},
		{
			name:   "conjunction all passing",
			filter: SubscriptionFilter{Categories: []string{"API"}, Levels: []string{"WARN"}, Sources: []string{"billing"}, Search: "timeout"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(record, tt.dataJSON); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionFilter_CategoryAndSearch(t *testing.T) {
	filter := SubscriptionFilter{Categories: []string{"API"}, Search: "timeout"}

	if filter.Matches(&Record{Category: "API", Message: "connected"}, "") {
		t.Error("record without the search term should not match")
	}
	if !filter.Matches(&Record{Category: "API", Message: "request timeout"}, "") {
		t.Error("record with category and search term should match")
	}
}

func TestNormalizeLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"error", LevelError, true},
		{" Warning ", LevelWarn, true},
		{"INFO", LevelInfo, true},
		{"trace", LevelDebug, true},
		{"panic", LevelFatal, true},
		{"loud", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeLevel(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
