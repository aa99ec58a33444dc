package codec

import (
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []int64{
		1,
		31,
		32,
		123456789,
		7236671678, // large telegram id
		1<<62 - 1,
	}
	for _, userID := range cases {
		tag := Encode(userID)
		decoded, err := Decode(tag)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", tag, err)
		}
		if decoded != userID {
			t.Fatalf("round trip mismatch: got %d, want %d", decoded, userID)
		}
	}
}

func TestDecodeMalformedTag(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"-",
		"xyz!",
		"WWWW", // uppercase is outside the tag charset
		"0",    // zero is not a valid user id
		"zzzzzzzzzzzzzzzzzzzzzzzzzz", // overflow
	}
	for _, tag := range cases {
		if _, err := Decode(tag); !errors.Is(err, ErrBadTag) {
			t.Fatalf("Decode(%q): want ErrBadTag, got %v", tag, err)
		}
	}
}

func TestParseHeaderBothForms(t *testing.T) {
	t.Parallel()

	const userID = int64(987654321)
	tag := Encode(userID)

	cases := []string{
		tag + "-42\nbody line",
		"Confession-" + tag + "-42\nbody line",
		tag + "-42",
	}
	for _, text := range cases {
		gotUser, gotPost, err := ParseHeader(text)
		if err != nil {
			t.Fatalf("ParseHeader(%q) failed: %v", text, err)
		}
		if gotUser != userID || gotPost != 42 {
			t.Fatalf("ParseHeader(%q) = (%d, %d), want (%d, 42)", text, gotUser, gotPost, userID)
		}
	}
}

func TestParseHeaderRejectsNonHeaders(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"just some text",
		"Confession--42",
		"confession-abc-42", // prefix is case sensitive
		"abc-42 trailing",
		"abc_42",
	}
	for _, text := range cases {
		if _, _, err := ParseHeader(text); err == nil {
			t.Fatalf("ParseHeader(%q): want error, got none", text)
		}
	}
}

func TestStripHeader(t *testing.T) {
	t.Parallel()

	tag := Encode(123)
	got := StripHeader("Confession-" + tag + "-7\n\nhello\nworld")
	if got != "hello\nworld" {
		t.Fatalf("StripHeader returned %q", got)
	}

	plain := "no header here\nsecond line"
	if got := StripHeader(plain); got != plain {
		t.Fatalf("StripHeader altered headerless text: %q", got)
	}

	if got := StripHeader(tag + "-7"); got != "" {
		t.Fatalf("StripHeader of bare header returned %q", got)
	}
}
