package cronexpr

import "testing"

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		want string
	}{
		{"* * * * *", "every minute"},
		{"0 * * * *", "every hour"},
		{"0 0 * * *", "every day at midnight"},
		{"0 12 * * *", "every day at noon"},
		{"0 0 * * 0", "every Sunday at midnight"},
		{"0 0 1 * *", "first day of every month"},
		{"*/15 * * * *", "every 15 minutes"},
		{"*/1 * * * *", "every minute"},
		{"30 9 * * *", "every day at 9:30 AM"},
		{"5 0 * * *", "every day at 12:05 AM"},
		{"0 13 * * *", "every day at 1:00 PM"},
		{"30 9 * * 1-5", "every Monday to Friday at 9:30 AM"},
		{"0 18 * * 1,3", "every Monday and Wednesday at 6:00 PM"},
		{"0 18 * * 1,3,5", "every Monday, Wednesday and Friday at 6:00 PM"},
		{"45 23 * * 6", "every Saturday at 11:45 PM"},
		{"0 9 1 * *", "0 9 1 * *"},
		{"0 9,17 * * *", "0 9,17 * * *"},
		{"not a cron", "not a cron"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			if got := Describe(tt.expr); got != tt.want {
				t.Fatalf("Describe(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}
