package pagination

import (
	"context"
	"errors"
	"testing"
)

func TestClampPageSize(t *testing.T) {
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{name: "default", value: 0, want: 50},
		{name: "negative", value: -3, want: 50},
		{name: "within", value: 10, want: 10},
		{name: "max", value: 500, want: 200},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampPageSize(tc.value, DefaultPageSize); got != tc.want {
				t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize with empty config = %d, want 1", got)
	}
}

func TestIsLastPage(t *testing.T) {
	if !IsLastPage(0, 10) {
		t.Fatal("empty page must end the listing")
	}
	if !IsLastPage(3, 10) {
		t.Fatal("short page must end the listing")
	}
	if IsLastPage(10, 10) {
		t.Fatal("full page must not end the listing")
	}
}

func TestCollectWalksUntilShortPage(t *testing.T) {
	data := []uint64{1, 2, 3, 4, 5}
	var cursors []string
	fetch := func(_ context.Context, p Page) ([]uint64, error) {
		start := 0
		if p.Cursor != nil {
			start = int(*p.Cursor)
			cursors = append(cursors, "set")
		} else {
			cursors = append(cursors, "nil")
		}
		end := min(start+p.Limit, len(data))
		return data[start:end], nil
	}
	got, err := Collect(context.Background(), Page{Limit: 2}, 0, fetch, func(v uint64) uint64 { return v })
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5", len(got))
	}
	if len(cursors) != 3 || cursors[0] != "nil" {
		t.Fatalf("cursors = %v, want first nil and three fetches", cursors)
	}
}

func TestCollectStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(context.Background(), Page{Limit: 1}, 0, func(context.Context, Page) ([]int, error) {
		return nil, boom
	}, func(int) uint64 { return 0 })
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestCollectHonorsMaxPages(t *testing.T) {
	calls := 0
	got, err := Collect(context.Background(), Page{Limit: 1}, 2, func(context.Context, Page) ([]int, error) {
		calls++
		return []int{calls}, nil
	}, func(v int) uint64 { return uint64(v) })
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if calls != 2 || len(got) != 2 {
		t.Fatalf("calls = %d, items = %d, want 2 and 2", calls, len(got))
	}
}
