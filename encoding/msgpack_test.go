package encoding

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

type sampleRecord struct {
	Seq       uint64   `json:"seq"`
	Database  string   `json:"database"`
	Table     string   `json:"table,omitempty"`
	Operation []string `json:"operation"`
	RowID     string   `json:"row_id,omitempty"`
	TxID      []byte   `json:"txid,omitempty"`
}

func TestMarshal_StructRoundTrip(t *testing.T) {
	in := sampleRecord{
		Seq:       42,
		Database:  "ORCL",
		Table:     "HR.EMPLOYEES",
		Operation: []string{"INSERT", "UPDATE"},
		RowID:     "AAAQ//AAAAABAABAAA",
		TxID:      []byte{0, 1, 2, 3, 4, 5, 6, 7},
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out sampleRecord
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Seq != in.Seq || out.Table != in.Table || out.RowID != in.RowID || !bytes.Equal(out.TxID, in.TxID) {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMarshal_UsesJSONTags(t *testing.T) {
	data, err := Marshal(sampleRecord{Seq: 1, Database: "ORCL"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var m map[string]interface{}
	if err := Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := m["database"]; !ok {
		t.Errorf("expected json tag names, got %v", m)
	}
	if _, ok := m["row_id"]; ok {
		t.Errorf("empty fields should be omitted, got %v", m)
	}
}

func TestUnmarshal_StringNotBytes(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"table": "T", "row_id": []byte("AAAQ")})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map[string]interface{}, got %T", result)
	}
	for key, val := range m {
		if _, ok := val.(string); !ok {
			t.Errorf("Value for key %q is %T, expected string", key, val)
		}
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rec := sampleRecord{Seq: uint64(id*1000 + j), Database: "ORCL"}
				data, err := MarshalCompressed(rec)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out sampleRecord
				if err := UnmarshalCompressed(data, &out); err != nil || out.Seq != rec.Seq {
					t.Errorf("round trip failed: %v %+v", err, out)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCompress_SmallPayloadIsRaw(t *testing.T) {
	in := []byte("short")
	framed := Compress(in)
	if framed[0] != frameRaw {
		t.Fatalf("expected raw frame, got %#x", framed[0])
	}
	out, err := Decompress(framed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("got %q, want %q", out, in)
	}
}

func TestCompress_LargePayload(t *testing.T) {
	in := []byte(strings.Repeat("ObjectChange HR.EMPLOYEES INSERT ", 200))
	framed := Compress(in)
	if framed[0] != frameZstd {
		t.Fatalf("expected zstd frame, got %#x", framed[0])
	}
	if len(framed) >= len(in) {
		t.Errorf("expected compression, %d >= %d", len(framed), len(in))
	}
	out, err := Decompress(framed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("payload mismatch after decompression")
	}
}

func TestDecompress_BadFrame(t *testing.T) {
	for _, in := range [][]byte{nil, {0x7f, 1, 2}} {
		if _, err := Decompress(in); err == nil {
			t.Errorf("expected error for %v", in)
		}
	}
	if _, err := Decompress([]byte{frameZstd, 1, 2, 3}); err == nil {
		t.Error("expected error for corrupt zstd frame")
	}
}

func BenchmarkMarshalCompressed(b *testing.B) {
	rec := sampleRecord{Seq: 1, Database: "ORCL", Table: "HR.EMPLOYEES", Operation: []string{"INSERT"}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MarshalCompressed(rec)
	}
}
