package storage

import (
	"errors"
	"testing"
)

func TestRecord_EncodeDecode(t *testing.T) {
	for _, r := range []Record{
		SetRecord("key", "value"),
		SetRecord("empty", ""),
		RemoveRecord("key"),
	} {
		frame := encodeRecord(r)
		if int64(len(frame)) != r.EncodedSize() {
			t.Errorf("%v: encoded %d bytes, EncodedSize says %d", r, len(frame), r.EncodedSize())
		}
		got, err := decodeRecord(frame)
		if err != nil {
			t.Fatalf("%v: %v", r, err)
		}
		if got != r {
			t.Errorf("expected %+v, got %+v", r, got)
		}
	}
}

func TestRecord_DetectsDamage(t *testing.T) {
	frame := encodeRecord(SetRecord("key", "value"))

	flipped := append([]byte(nil), frame...)
	flipped[len(flipped)-1] ^= 0xff
	if _, err := decodeRecord(flipped); !errors.Is(err, errChecksum) {
		t.Errorf("expected checksum error, got %v", err)
	}

	if _, err := decodeRecord(frame[:len(frame)-2]); !errors.Is(err, errLengthField) {
		t.Errorf("expected length error for short frame, got %v", err)
	}

	if _, err := decodeRecord(frame[:4]); !errors.Is(err, errShortFrame) {
		t.Errorf("expected short frame error, got %v", err)
	}
}

func TestRecord_UnknownKind(t *testing.T) {
	r := SetRecord("k", "v")
	r.Kind = 9
	if _, err := decodeRecord(encodeRecord(r)); !errors.Is(err, errUnknownKind) {
		t.Errorf("expected unknown kind error, got %v", err)
	}
}
