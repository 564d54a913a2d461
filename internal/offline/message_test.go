package offline

import "testing"

func TestParseMessage(t *testing.T) {
	cases := []struct {
		raw  string
		want Message
	}{
		{raw: "skipWaiting", want: MessageSkipWaiting},
		{raw: " downloadOffline\n", want: MessageDownloadOffline},
		{raw: `"skipWaiting"`, want: MessageSkipWaiting},
		{raw: `{"data":"downloadOffline"}`, want: MessageDownloadOffline},
		{raw: `{"data":{"type":"skipWaiting"}}`, want: MessageUnknown},
		{raw: `{"data":"reload"}`, want: MessageUnknown},
		{raw: "SkipWaiting", want: MessageUnknown},
		{raw: "{broken", want: MessageUnknown},
		{raw: "", want: MessageUnknown},
	}
	for _, tc := range cases {
		if got := ParseMessage([]byte(tc.raw)); got != tc.want {
			t.Fatalf("ParseMessage(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
