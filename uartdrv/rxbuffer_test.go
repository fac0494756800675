package uartdrv

import "testing"

func TestRxBuffer_LoadOverwritesFromZero(t *testing.T) {
	rb := newRxBuffer(4)
	if o, tr := rb.Load([]byte("abc")); o != 0 || tr != 0 {
		t.Fatalf("first load: overwritten=%d truncated=%d", o, tr)
	}
	if got, ok := rb.Get(); !ok || got != 'a' {
		t.Fatalf("got %q,%v want 'a',true", got, ok)
	}

	// "bc" is still unread when the next burst lands.
	o, tr := rb.Load([]byte("de"))
	if o != 2 || tr != 0 {
		t.Fatalf("second load: overwritten=%d truncated=%d want 2,0", o, tr)
	}
	if rb.Index() != 2 {
		t.Fatalf("Index = %d want 2", rb.Index())
	}
	if got := string(rb.Unread()); got != "de" {
		t.Fatalf("Unread = %q want \"de\"", got)
	}

	p := make([]byte, 4)
	if n := rb.Read(p); n != 2 || string(p[:n]) != "de" {
		t.Fatalf("Read: got %q", p[:n])
	}
	if rb.Used() != 0 {
		t.Fatalf("Used = %d want 0", rb.Used())
	}
}

func TestRxBuffer_LoadTruncates(t *testing.T) {
	rb := newRxBuffer(2)
	if o, tr := rb.Load([]byte("wxyz")); o != 0 || tr != 2 {
		t.Fatalf("overwritten=%d truncated=%d want 0,2", o, tr)
	}
	if got := string(rb.Unread()); got != "wx" {
		t.Fatalf("Unread = %q want \"wx\"", got)
	}
}

func TestRxBuffer_Flush(t *testing.T) {
	rb := newRxBuffer(4)
	rb.Load([]byte{1, 2})
	rb.Flush()
	rb.Flush()
	if rb.Index() != 0 || rb.Used() != 0 {
		t.Fatalf("index=%d used=%d after flush", rb.Index(), rb.Used())
	}
	for i, b := range rb.data {
		if b != 0 {
			t.Fatalf("data[%d] = %d after flush", i, b)
		}
	}
	if _, ok := rb.Get(); ok {
		t.Fatal("Get on flushed buffer returned data")
	}
}
