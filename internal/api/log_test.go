package api

import (
	"testing"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "narration start",
			in:   `time=2026-05-02T14:03:11.512+09:00 level=INFO msg=start poi=gyeongbokgung trigger=approaching distance_m=812 lang=ko text="경복궁은 조선 왕조의 법궁으로 1395년에 지어졌습니다"`,
			want: "14:03:11 start [gyeongbokgung] (distance_m=812, lang=ko, trigger=approaching)",
		},
		{
			name: "no poi",
			in:   `time=2026-05-02T14:03:11+09:00 level=INFO msg=voice fallback=true`,
			want: "14:03:11 voice (fallback=true)",
		},
		{
			name: "not slog",
			in:   "plain line",
			want: "plain line",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLogLine(tt.in); got != tt.want {
				t.Errorf("formatLogLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
