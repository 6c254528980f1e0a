package safecodec

import (
	"testing"
)

func BenchmarkEncode(b *testing.B) {
	reg := newTestRegistry()
	p := sampleProfile()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Encode(p, profileID)
	}
}

func BenchmarkAppendRecord(b *testing.B) {
	reg := newTestRegistry()
	p := Period{Start: 1, End: 2}
	buf := make([]byte, 0, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, _ = reg.AppendRecord(buf[:0], p, periodID)
	}
}

func BenchmarkDecode(b *testing.B) {
	reg := newTestRegistry()
	data, err := reg.Encode(sampleProfile(), profileID)
	if err != nil {
		b.Fatal(err)
	}
	allow := NewAllowList(profileID, periodID, tagID)
	limits := Limits{MaxDepth: 4, MaxFields: 64, MaxBytes: 1 << 10, MaxSteps: 256}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.Decode(data, profileID, allow, limits); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeRejectedHeader(b *testing.B) {
	reg := newTestRegistry()
	data := AppendHeader(nil, Header{TypeID: profileID, Version: 1, Length: MaxLength})
	allow := NewAllowList(periodID)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Decode(data, profileID, allow, Limits{})
	}
}
