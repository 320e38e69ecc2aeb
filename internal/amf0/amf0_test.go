package amf0

import "testing"

func TestObjectPreservesOrder(t *testing.T) {
	o := NewObject()
	o.Set("zebra", String("z"))
	o.Set("apple", String("a"))
	o.Set("mango", String("m"))

	want := []string{"zebra", "apple", "mango"}
	got := o.Keys()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestObjectSetOverwriteKeepsPosition(t *testing.T) {
	o := NewObject()
	o.Set("a", Number(1))
	o.Set("b", Number(2))
	o.Set("a", Number(3))

	if got := o.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("keys = %v, want [a b]", got)
	}
	v, _ := o.Get("a")
	if v.Float64() != 3 {
		t.Fatalf("a = %v, want 3", v.Float64())
	}
}

func TestEncodeDecodeObjectRoundTrip(t *testing.T) {
	o := NewObject()
	o.Set("level", String("status"))
	o.Set("code", String("NetStream.Play.Start"))
	o.Set("clientid", Number(42))

	encoded := EncodeOne(Obj(o))

	d := NewDecoder(encoded)
	v, err := d.ReadOne()
	if err != nil {
		t.Fatal(err)
	}
	if v.Type != TypeObject {
		t.Fatalf("type = %d, want TypeObject", v.Type)
	}
	got := v.Object().Keys()
	want := []string{"level", "code", "clientid"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", got, want)
		}
	}
	cid, _ := v.Object().Get("clientid")
	if cid.Float64() != 42 {
		t.Fatalf("clientid = %v, want 42", cid.Float64())
	}
}

func TestDecodeNumberString(t *testing.T) {
	buf := append(EncodeOne(Number(3.5)), EncodeOne(String("hi"))...)
	d := NewDecoder(buf)
	n, err := d.ReadOne()
	if err != nil || n.Float64() != 3.5 {
		t.Fatalf("n = %v, err = %v", n, err)
	}
	s, err := d.ReadOne()
	if err != nil || s.String() != "hi" {
		t.Fatalf("s = %v, err = %v", s, err)
	}
}

func TestDecodeVariable(t *testing.T) {
	var buf []byte
	buf = append(buf, encodeString("onMetaData")...)
	o := NewObject()
	o.Set("width", Number(1920))
	buf = append(buf, EncodeOne(Obj(o))...)

	name, v, n, err := DecodeVariable(buf)
	if err != nil {
		t.Fatal(err)
	}
	if name != "onMetaData" {
		t.Fatalf("name = %q", name)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	w, _ := v.Object().Get("width")
	if w.Float64() != 1920 {
		t.Fatalf("width = %v", w.Float64())
	}
}

func TestTruncatedStream(t *testing.T) {
	d := NewDecoder([]byte{TypeNumber, 0x00, 0x00})
	if _, err := d.ReadOne(); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestStrictArray(t *testing.T) {
	v := StrictArr([]Value{Number(1), Number(2), String("x")})
	encoded := EncodeOne(v)
	d := NewDecoder(encoded)
	got, err := d.ReadOne()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Array()) != 3 {
		t.Fatalf("len = %d, want 3", len(got.Array()))
	}
	if got.Array()[2].String() != "x" {
		t.Fatalf("array[2] = %v", got.Array()[2])
	}
}
