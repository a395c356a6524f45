package notification

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	n := New()
	if n.ID != 0 {
		t.Fatalf("ID = %d, want 0", n.ID)
	}
	if n.Urgency != UrgencyNone || n.Timeout != -1 || n.Progress != -1 {
		t.Fatalf("unexpected defaults: urgency=%v timeout=%v progress=%d", n.Urgency, n.Timeout, n.Progress)
	}
	if n.Markup != MarkupNull || n.Fullscreen != FSNull {
		t.Fatalf("unexpected defaults: markup=%v fullscreen=%v", n.Markup, n.Fullscreen)
	}
	if n.Actions != nil || n.RawIcon != nil {
		t.Fatal("actions and raw icon must start nil")
	}
}

func TestParseActions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  []string
		want int
	}{
		{name: "nil", raw: nil, want: 0},
		{name: "single key", raw: []string{"default"}, want: 0},
		{name: "pair", raw: []string{"default", "Open"}, want: 1},
		{name: "odd tail dropped", raw: []string{"a", "A", "b"}, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseActions(tt.raw)
			if tt.want == 0 {
				if got != nil {
					t.Fatalf("ParseActions(%v) = %+v, want nil", tt.raw, got)
				}
				return
			}
			if got.Len() != tt.want {
				t.Fatalf("Len = %d, want %d", got.Len(), tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	n := New()
	n.RawIcon = &RawImage{Width: 1, Height: 1, Rowstride: 3, Channels: 3, BitsPerSample: 8, Data: []byte{1, 2, 3}}
	n.Actions = ParseActions([]string{"default", "Open"})

	cp := n.Clone()
	cp.RawIcon.Data[0] = 9
	cp.Actions.List[0].Key = "other"

	if n.RawIcon.Data[0] != 1 {
		t.Fatal("clone shares image buffer")
	}
	if !n.Actions.Has("default") {
		t.Fatal("clone shares action list")
	}
}

func TestUpdateFromKeepsIdentity(t *testing.T) {
	t.Parallel()
	old := New()
	old.ID = 7
	old.Timestamp = time.Unix(100, 0)
	old.Summary = "old"

	src := New()
	src.Summary = "new"
	src.Client = ":1.42"
	src.Valid = true

	old.UpdateFrom(src)
	if old.ID != 7 || !old.Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("identity lost: id=%d ts=%v", old.ID, old.Timestamp)
	}
	if old.Summary != "new" || old.Client != ":1.42" {
		t.Fatalf("content not replaced: %+v", old)
	}
}

func TestImageExpectedLen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		img  RawImage
		want int64
	}{
		{name: "rgb 2x2 padded stride", img: RawImage{Width: 2, Height: 2, Rowstride: 8, Channels: 3, BitsPerSample: 8}, want: 8 + 6},
		{name: "rgba 3x1", img: RawImage{Width: 3, Height: 1, Rowstride: 12, Channels: 4, BitsPerSample: 8}, want: 12},
		{name: "sub-byte depth rounds up", img: RawImage{Width: 4, Height: 1, Rowstride: 4, Channels: 1, BitsPerSample: 4}, want: 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.img.ExpectedLen(); got != tt.want {
				t.Fatalf("ExpectedLen = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestImageValidate(t *testing.T) {
	t.Parallel()
	ok := RawImage{Width: 2, Height: 2, Rowstride: 8, Channels: 3, BitsPerSample: 8, Data: make([]byte, 14)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	short := ok
	short.Data = make([]byte, 13)
	if err := short.Validate(); err == nil {
		t.Fatal("expected length mismatch error")
	}
	zero := ok
	zero.Height = 0
	if err := zero.Validate(); err == nil {
		t.Fatal("expected geometry error")
	}
}

func TestImageValidateFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		img  RawImage
	}{
		{name: "huge format with no data", img: RawImage{Width: 128, Height: 1, Rowstride: 1, Channels: 1 << 30, BitsPerSample: 1 << 30}},
		{name: "five channels", img: RawImage{Width: 1, Height: 1, Rowstride: 5, Channels: 5, BitsPerSample: 8, Data: make([]byte, 5)}},
		{name: "32 bits per sample", img: RawImage{Width: 1, Height: 1, Rowstride: 4, Channels: 1, BitsPerSample: 32, Data: make([]byte, 4)}},
		{name: "zero channels", img: RawImage{Width: 1, Height: 1, Rowstride: 1, BitsPerSample: 8}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.img.Validate(); err == nil {
				t.Fatal("expected format error")
			}
		})
	}

	deep := RawImage{Width: 1, Height: 1, Rowstride: 8, Channels: 4, BitsPerSample: 16, Data: make([]byte, 8)}
	if err := deep.Validate(); err != nil {
		t.Fatalf("16-bit rgba: %v", err)
	}
}

func TestReasonNormalize(t *testing.T) {
	t.Parallel()
	for in, want := range map[Reason]Reason{
		0:                  ReasonUndefined,
		ReasonExpired:      ReasonExpired,
		ReasonClosedByCall: ReasonClosedByCall,
		5:                  ReasonUndefined,
	} {
		if got := in.Normalize(); got != want {
			t.Fatalf("Reason(%d).Normalize() = %d, want %d", in, got, want)
		}
	}
}
