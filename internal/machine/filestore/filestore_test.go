package filestore

import "testing"

func TestCreateOpenReadWrite(t *testing.T) {
	s := NewStore()
	if !s.Create("a", 0) {
		t.Fatal("Create failed")
	}
	if s.Create("a", 0) {
		t.Error("Create succeeded for an existing name")
	}

	f := s.Open("a")
	if f == nil {
		t.Fatal("Open failed")
	}
	if n := f.Write([]byte("hello")); n != 5 {
		t.Errorf("Write = %d, want 5", n)
	}
	if f.Length() != 5 {
		t.Errorf("Length = %d, want 5", f.Length())
	}

	f.Seek(0)
	buf := make([]byte, 5)
	if n := f.Read(buf); n != 5 || string(buf) != "hello" {
		t.Errorf("Read = %d %q, want 5 hello", n, buf)
	}
	if n := f.Read(buf); n != 0 {
		t.Errorf("Read at EOF = %d, want 0", n)
	}
	f.Close()
}

func TestOpenMissing(t *testing.T) {
	s := NewStore()
	if s.Open("nope") != nil {
		t.Error("Open of a missing file succeeded")
	}
}

func TestIndependentPositions(t *testing.T) {
	s := NewStore()
	s.Put("a", []byte("abcdef"))

	f1 := s.Open("a")
	f2 := s.Open("a")
	buf := make([]byte, 3)
	f1.Read(buf)
	if f1.Tell() != 3 {
		t.Errorf("f1.Tell = %d, want 3", f1.Tell())
	}
	if f2.Tell() != 0 {
		t.Errorf("f2.Tell = %d, want 0", f2.Tell())
	}
}

func TestDenyWrite(t *testing.T) {
	s := NewStore()
	s.Put("bin", []byte("code"))

	f := s.Open("bin")
	f.DenyWrite()

	w := s.Open("bin")
	if n := w.Write([]byte("x")); n != -1 {
		t.Errorf("Write on a deny-write file = %d, want -1", n)
	}

	f.Close() // re-allows writes
	if n := w.Write([]byte("x")); n != 1 {
		t.Errorf("Write after Close = %d, want 1", n)
	}
	w.Close()
}

func TestRemoveKeepsOpenHandles(t *testing.T) {
	s := NewStore()
	s.Put("a", []byte("data"))
	f := s.Open("a")

	if !s.Remove("a") {
		t.Fatal("Remove failed")
	}
	if s.Remove("a") {
		t.Error("second Remove succeeded")
	}
	if s.Open("a") != nil {
		t.Error("Open found a removed file")
	}

	buf := make([]byte, 4)
	if n := f.Read(buf); n != 4 || string(buf) != "data" {
		t.Errorf("Read through a removed file = %d %q", n, buf)
	}
	f.Close()
}

func TestCloseNil(t *testing.T) {
	var f *File
	f.Close() // must not panic
}

func TestReadAtDoesNotMovePosition(t *testing.T) {
	s := NewStore()
	s.Put("a", []byte("abcdef"))
	f := s.Open("a")

	buf := make([]byte, 2)
	if n := f.ReadAt(buf, 4); n != 2 || string(buf) != "ef" {
		t.Errorf("ReadAt = %d %q, want 2 ef", n, buf)
	}
	if f.Tell() != 0 {
		t.Errorf("Tell = %d after ReadAt, want 0", f.Tell())
	}
}
