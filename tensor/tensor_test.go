package tensor

import (
	"errors"
	"testing"
)

func TestNew_ShapeMismatch(t *testing.T) {
	if _, err := New([]int64{2, 3}, make([]float32, 5)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("期望 ErrShapeMismatch, 实际 %v", err)
	}
	if _, err := New([]int64{2, -1}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("负维度应报错, 实际 %v", err)
	}
	tt, err := New([]int64{0, 4, 4, 3}, nil)
	if err != nil {
		t.Fatalf("空张量不应报错: %v", err)
	}
	if tt.Len() != 0 || tt.Dim(0) != 0 {
		t.Fatalf("空张量异常: %v", tt.Shape)
	}
}

func TestHWCToCHW(t *testing.T) {
	// 2x2 图, 3 通道, 值 = 像素序号*10 + 通道
	src := Zeros(2, 2, 3)
	for p := 0; p < 4; p++ {
		for c := 0; c < 3; c++ {
			src.Data[p*3+c] = float32(p*10 + c)
		}
	}
	dst, err := src.HWCToCHW()
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{3, 2, 2}
	for i := range want {
		if dst.Shape[i] != want[i] {
			t.Fatalf("形状错误: %v", dst.Shape)
		}
	}
	for c := 0; c < 3; c++ {
		for p := 0; p < 4; p++ {
			if got := dst.Data[c*4+p]; got != float32(p*10+c) {
				t.Fatalf("c=%d p=%d: 期望 %d, 实际 %v", c, p, p*10+c, got)
			}
		}
	}
}

func TestNHWCToNCHW_PreservesBatchOrder(t *testing.T) {
	src := Zeros(3, 1, 2, 3)
	for i := range src.Data {
		src.Data[i] = float32(i)
	}
	dst, err := src.NHWCToNCHW()
	if err != nil {
		t.Fatal(err)
	}
	if dst.Dim(0) != 3 || dst.Dim(1) != 3 || dst.Dim(2) != 1 || dst.Dim(3) != 2 {
		t.Fatalf("形状错误: %v", dst.Shape)
	}
	for n := 0; n < 3; n++ {
		item := dst.Item(n)
		// 第 n 个样本的第 0 通道第 0 像素来自 src 的 n*6
		if item[0] != float32(n*6) {
			t.Fatalf("样本 %d 顺序错误: %v", n, item)
		}
	}

	empty := Zeros(0, 4, 4, 3)
	out, err := empty.NHWCToNCHW()
	if err != nil {
		t.Fatal(err)
	}
	if out.Dim(0) != 0 || out.Dim(1) != 3 {
		t.Fatalf("空批次形状错误: %v", out.Shape)
	}
}

func TestRankErrors(t *testing.T) {
	if _, err := Zeros(2, 2).HWCToCHW(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("2 维输入应报错: %v", err)
	}
	if _, err := Zeros(2, 2, 3).NHWCToNCHW(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("3 维输入应报错: %v", err)
	}
	bad := &Tensor{Shape: []int64{2, 2}, Data: make([]float32, 3)}
	if err := bad.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Validate 应报错: %v", err)
	}
}
