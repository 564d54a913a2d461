package logging

import "testing"

func TestAppFields(t *testing.T) {
	fields := AppFields("shop", "shop.local", "main.js", "cache-first", "cache")
	if fields["app"] != "shop" || fields["key"] != "main.js" || fields["source"] != "cache" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLifecycleFields(t *testing.T) {
	fields := LifecycleFields("shop", "activate", "abc")
	if fields["event"] != "activate" || fields["digest"] != "abc" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
