package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" {
		t.Fatalf("unexpected defaults %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want int
		err  bool
	}{
		"explicit": {raw: "35", want: 35},
		"clamped":  {raw: "1000", want: MaxPageSize},
		"zero":     {raw: "0", err: true},
		"negative": {raw: "-3", err: true},
		"garbage":  {raw: "ten", err: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			params, err := Parse(url.Values{"page_size": {tc.raw}})
			if tc.err {
				if !errors.Is(err, ErrInvalidPageSize) {
					t.Fatalf("expected ErrInvalidPageSize, got %v", err)
				}
				return
			}
			if err != nil || params.PageSize != tc.want {
				t.Fatalf("Parse = %+v, %v", params, err)
			}
		})
	}
}

func TestTokenRoundTripAndRejection(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC).Format(time.RFC3339Nano)
	token, err := EncodeToken(Cursor{StartAfter: []any{at, "ord_01"}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	params, err := Parse(url.Values{"page_token": {token}})
	if err != nil || params.PageToken != token {
		t.Fatalf("Parse = %+v, %v", params, err)
	}
	cursor, err := DecodeToken(token)
	if err != nil || cursor.StartAfter[0] != at || cursor.StartAfter[1] != "ord_01" {
		t.Fatalf("DecodeToken = %+v, %v", cursor, err)
	}

	for _, bad := range []string{"!!!", "bm90LWpzb24", "e30"} {
		if _, err := Parse(url.Values{"page_token": {bad}}); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}

	if token, err := EncodeToken(Cursor{}); err != nil || token != "" {
		t.Fatalf("expected empty token for empty cursor")
	}
}
