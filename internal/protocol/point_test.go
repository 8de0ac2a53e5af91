package protocol

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestPointRoundtrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0xaa}, 32)
	for _, point := range []Point{Origin(), Specific(43847831, hash)} {
		data, err := cbor.Marshal(point)
		if err != nil {
			t.Fatalf("marshal %v: %v", point, err)
		}
		var got Point
		if err := cbor.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %v: %v", point, err)
		}
		if !got.Equal(point) {
			t.Errorf("got %v, want %v", got, point)
		}
	}
}

func TestPointOriginEncodesEmptyArray(t *testing.T) {
	data, err := cbor.Marshal(Origin())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(data, []byte{0x80}) {
		t.Fatalf("origin encoded as %x, want 80", data)
	}
}

func TestPointEquality(t *testing.T) {
	hash := bytes.Repeat([]byte{0x01}, 32)
	other := bytes.Repeat([]byte{0x02}, 32)

	if !Origin().Equal(Origin()) {
		t.Error("origin must equal origin")
	}
	if Origin().Equal(Specific(1, hash)) {
		t.Error("origin must not equal a specific point")
	}
	if !Specific(7, hash).Equal(Specific(7, hash)) {
		t.Error("identical specific points must be equal")
	}
	if Specific(7, hash).Equal(Specific(7, other)) {
		t.Error("points with different hashes must differ")
	}
	if Specific(7, hash).Equal(Specific(8, hash)) {
		t.Error("points with different slots must differ")
	}
}

func TestTipRoundtrip(t *testing.T) {
	tip := Tip{Point: Specific(99, bytes.Repeat([]byte{0x0f}, 32)), BlockNo: 1234}
	data, err := cbor.Marshal(tip)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Tip
	if err := cbor.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Point.Equal(tip.Point) || got.BlockNo != tip.BlockNo {
		t.Errorf("got %+v, want %+v", got, tip)
	}
}
