package vecbuf

import (
	"bytes"
	"testing"
)

func b(s string) []byte { return []byte(s) }

func TestFlatten(t *testing.T) {
	cases := []struct {
		in   [][]byte
		want string
	}{
		{nil, ""},
		{[][]byte{b("")}, ""},
		{[][]byte{b(""), b("")}, ""},
		{[][]byte{b("abc")}, "abc"},
		{[][]byte{b("ab"), b("c")}, "abc"},
		{[][]byte{b(""), b("ab"), b(""), b("c"), b(""), b("")}, "abc"},
	}
	for _, c := range cases {
		if got := Flatten(c.in); string(got) != c.want {
			t.Errorf("Flatten(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReadWriteSimple(t *testing.T) {
	v := New()
	v.Write(b("abcd"))

	got, err := v.Read(4)
	if err != nil || string(got) != "abcd" {
		t.Fatalf("Read(4) = %q, %v", got, err)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read past end = %v, want ErrEOB", err)
	}
}

func TestReadWriteEmptyPieces(t *testing.T) {
	v := New()
	v.Write(b(""))
	v.Write(b(""))
	v.Write(b("abcd"))

	got, err := v.Read(4)
	if err != nil || string(got) != "abcd" {
		t.Fatalf("Read(4) = %q, %v", got, err)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read past end = %v, want ErrEOB", err)
	}
}

func TestReadEmpty(t *testing.T) {
	v := New()

	got, err := v.Read(0)
	if err != nil || len(got) != 0 {
		t.Fatalf("Read(0) on empty buf = %q, %v", got, err)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read(1) on empty buf = %v, want ErrEOB", err)
	}

	v.Write(b("a"))
	if got, err := v.Read(0); err != nil || len(got) != 0 {
		t.Fatalf("Read(0) = %q, %v", got, err)
	}
	if got, err := v.Read(1); err != nil || string(got) != "a" {
		t.Fatalf("Read(1) = %q, %v", got, err)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read past end = %v, want ErrEOB", err)
	}
}

func TestReadWriteNotAligned(t *testing.T) {
	v := New()
	v.Write(b("ab"))
	v.Write(b("cd"))
	v.Write(b(""))
	v.Write(b("ef"))
	v.Write(b("gh"))
	v.Write(b("ij"))

	want := []struct {
		n    int
		want string
		eob  bool
	}{
		{0, "", false},
		{1, "a", false},
		{2, "bc", false},
		{4, "defg", false},
		{0, "", false},
		{2, "hi", false},
		{2, "", true},
		{0, "", false},
		{1, "j", false},
		{1, "", true},
	}
	for i, c := range want {
		got, err := v.Read(c.n)
		if c.eob {
			if err != ErrEOB {
				t.Fatalf("case %d: Read(%d) = %v, want ErrEOB", i, c.n, err)
			}
			continue
		}
		if err != nil || string(got) != c.want {
			t.Fatalf("case %d: Read(%d) = %q, %v, want %q", i, c.n, got, err, c.want)
		}
	}

	v.Write(b(""))
	v.Write(b("abcd"))
	v.Write(b("efgh"))
	v.Write(b("ijkl"))
	v.Write(b("mnop"))

	if got, _ := v.Read(2); string(got) != "ab" {
		t.Fatalf("Read(2) = %q", got)
	}
	if got, _ := v.Read(8); string(got) != "cdefghij" {
		t.Fatalf("Read(8) = %q", got)
	}
	if got, _ := v.Read(4); string(got) != "klmn" {
		t.Fatalf("Read(4) = %q", got)
	}
	if _, err := v.Read(3); err != ErrEOB {
		t.Fatalf("Read(3) = %v, want ErrEOB", err)
	}
	if got, _ := v.Read(2); string(got) != "op" {
		t.Fatalf("Read(2) = %q", got)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read(1) = %v, want ErrEOB", err)
	}
}

func TestSeqReadWrite(t *testing.T) {
	v := New()
	v.WriteSeq([][]byte{b("ab"), b("cd"), b(""), b("ef"), b("gh"), b("ij")})

	if got, _ := v.Read(1); string(got) != "a" {
		t.Fatalf("Read(1) = %q", got)
	}
	if got, _ := v.Read(2); string(got) != "bc" {
		t.Fatalf("Read(2) = %q", got)
	}
	rows, err := v.ReadSeq(4)
	if err != nil || string(Flatten(rows)) != "defg" {
		t.Fatalf("ReadSeq(4) = %v, %v", rows, err)
	}
	if got, _ := v.Read(2); string(got) != "hi" {
		t.Fatalf("Read(2) = %q", got)
	}
	if _, err := v.ReadSeq(2); err != ErrEOB {
		t.Fatalf("ReadSeq(2) = %v, want ErrEOB", err)
	}
	if got, _ := v.Read(1); string(got) != "j" {
		t.Fatalf("Read(1) = %q", got)
	}
}

func TestSeqReadWriteAcrossBuffers(t *testing.T) {
	v := New()
	v.WriteSeq([][]byte{b("ab"), b("cd"), b(""), b("ef"), b("gh"), b("ij")})

	v.Read(1)
	v.Read(2)

	rows, err := v.ReadSeq(6)
	if err != nil {
		t.Fatal(err)
	}
	v2 := New(rows...)

	if got, _ := v.Read(1); string(got) != "j" {
		t.Fatalf("Read(1) = %q", got)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read(1) = %v, want ErrEOB", err)
	}

	if got, err := v2.Read(6); err != nil || string(got) != "defghi" {
		t.Fatalf("v2.Read(6) = %q, %v", got, err)
	}
	if _, err := v2.Read(1); err != ErrEOB {
		t.Fatalf("v2.Read(1) = %v, want ErrEOB", err)
	}
}

func TestReadClone(t *testing.T) {
	v := New()
	v.WriteSeq([][]byte{b("ab"), b("cd"), b(""), b("ef"), b("gh"), b("ij")})

	v.Read(1)
	v.Read(2)

	v2, err := v.ReadClone(6)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := v.Read(1); string(got) != "j" {
		t.Fatalf("Read(1) = %q", got)
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read(1) = %v, want ErrEOB", err)
	}

	if got, err := v2.Read(6); err != nil || string(got) != "defghi" {
		t.Fatalf("v2.Read(6) = %q, %v", got, err)
	}
	if _, err := v2.Read(1); err != ErrEOB {
		t.Fatalf("v2.Read(1) = %v, want ErrEOB", err)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	v := New()

	if _, err := v.Peek(1); err != ErrEOB {
		t.Fatalf("Peek(1) on empty = %v, want ErrEOB", err)
	}
	if got, err := v.Peek(0); err != nil || len(got) != 0 {
		t.Fatalf("Peek(0) on empty = %q, %v", got, err)
	}

	v.Write(b("ab"))
	v.WriteSeq([][]byte{b("cd"), b(""), b("ef")})

	if got, _ := v.Peek(3); string(got) != "abc" {
		t.Fatalf("Peek(3) = %q", got)
	}
	if got, _ := v.Peek(3); string(got) != "abc" {
		t.Fatalf("second Peek(3) = %q, peeking must not consume", got)
	}
	v.Read(1)
	v.Read(2)

	v.WriteSeq([][]byte{b("gh"), b("ij")})

	if got, err := v.Peek(7); err != nil || string(got) != "defghij" {
		t.Fatalf("Peek(7) = %q, %v", got, err)
	}
	rows, err := v.ReadSeq(7)
	if err != nil || string(Flatten(rows)) != "defghij" {
		t.Fatalf("ReadSeq(7) = %v, %v", rows, err)
	}

	if got, err := v.Peek(0); err != nil || len(got) != 0 {
		t.Fatalf("Peek(0) at end = %q, %v", got, err)
	}
	if _, err := v.Peek(1); err != ErrEOB {
		t.Fatalf("Peek(1) at end = %v, want ErrEOB", err)
	}
}

func TestScenario(t *testing.T) {
	v := New()
	v.Write(b("abcde"))
	v.WriteSeq([][]byte{b("fgh"), b("ijkl")})
	v.Write(b("mnopqr"))

	reads := []string{"a", "b", "cdef", "ghijklmnop", "q", "r"}
	lens := []int{1, 1, 4, 10, 1, 1}
	for i, want := range reads {
		got, err := v.Read(lens[i])
		if err != nil || !bytes.Equal(got, []byte(want)) {
			t.Fatalf("step %d: Read(%d) = %q, %v, want %q", i, lens[i], got, err, want)
		}
	}
	if _, err := v.Read(1); err != ErrEOB {
		t.Fatalf("Read past end = %v, want ErrEOB", err)
	}
}

func TestLen(t *testing.T) {
	v := New()
	if v.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", v.Len())
	}
	v.Write(b("abcde"))
	if v.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", v.Len())
	}
	v.Read(2)
	if v.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v.Len())
	}
}
