package rtmpose

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/getcharzp/go-pose/backend"
	"github.com/getcharzp/go-pose/modelhub"
	"github.com/getcharzp/go-pose/tensor"
)

// fakeRunner 按每个裁剪图的像素均值生成 SimCC 最大值位置
type fakeRunner struct {
	k, wx, hy int
	calls     int
	lastShape []int64
	err       error
	destroyed bool
	center    bool // 所有关键点的最大值都在中心
}

func (f *fakeRunner) Run(input *tensor.Tensor) (*backend.Output, backend.RunTiming, error) {
	f.calls++
	if f.err != nil {
		return nil, backend.RunTiming{}, f.err
	}
	f.lastShape = append([]int64(nil), input.Shape...)

	n := input.Dim(0)
	x := tensor.Zeros(int64(n), int64(f.k), int64(f.wx))
	y := tensor.Zeros(int64(n), int64(f.k), int64(f.hy))
	for i := 0; i < n; i++ {
		var sum float64
		for _, v := range input.Item(i) {
			sum += float64(v)
		}
		mean := int(math.Abs(sum / float64(len(input.Item(i)))))
		for j := 0; j < f.k; j++ {
			lx, ly := (mean+j)%f.wx, (mean*3+j)%f.hy
			if f.center {
				lx, ly = f.wx/2, f.hy/2
			}
			x.Data[(i*f.k+j)*f.wx+lx] = float32(mean%100) / 100
			y.Data[(i*f.k+j)*f.hy+ly] = 0.9
		}
	}
	return &backend.Output{SimCCX: x, SimCCY: y}, backend.RunTiming{Prep: time.Millisecond, Model: 2 * time.Millisecond}, nil
}

func (f *fakeRunner) Destroy() error {
	f.destroyed = true
	return nil
}

func newTestEngine(t *testing.T, modify func(c *Config)) (*Engine, *fakeRunner) {
	t.Helper()
	cfg := DefaultBodyConfig()
	cfg.Mean, cfg.Std = nil, nil
	if modify != nil {
		modify(&cfg)
	}
	r := &fakeRunner{k: cfg.NumKeyPoints, wx: cfg.InputWidth * 2, hy: cfg.InputHeight * 2}
	engine, err := NewEngineWithRunner(cfg, r)
	if err != nil {
		t.Fatalf("初始化引擎失败: %v", err)
	}
	return engine, r
}

func TestEngine_PredictEmpty(t *testing.T) {
	engine, r := newTestEngine(t, nil)

	res, err := engine.Predict(gradientImage(640, 480), nil)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	kShape, sShape := res.Shape()
	if kShape != [3]int{0, 17, 2} || sShape != [2]int{0, 17} {
		t.Fatalf("空结果形状错误: %v %v", kShape, sShape)
	}
	if res.KeyPoints == nil || res.Scores == nil {
		t.Fatalf("空结果不应为 nil")
	}
	if res.Timing.NumBoxes != 0 || res.Timing.Total != 0 {
		t.Fatalf("空结果耗时应为 0: %+v", res.Timing)
	}
	if r.calls != 0 {
		t.Fatalf("空检测框不应调用模型")
	}
}

func TestEngine_PredictEmptyOpenPose(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *Config) { c.ToOpenPose = true })
	res, err := engine.Predict(nil, []BBox{})
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	if kShape, _ := res.Shape(); kShape != [3]int{0, 18, 2} {
		t.Fatalf("OpenPose 空结果形状错误: %v", kShape)
	}
}

func TestEngine_PredictScenario(t *testing.T) {
	engine, r := newTestEngine(t, nil)
	r.center = true

	res, err := engine.Predict(gradientImage(640, 480), []BBox{{X1: 100, Y1: 100, X2: 200, Y2: 300}})
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	if want := []int64{1, 3, 256, 192}; len(r.lastShape) != 4 || r.lastShape[1] != want[1] || r.lastShape[2] != want[2] || r.lastShape[3] != want[3] {
		t.Fatalf("模型输入应为 NCHW %v, 实际 %v", want, r.lastShape)
	}
	kShape, sShape := res.Shape()
	if kShape != [3]int{1, 17, 2} || sShape != [2]int{1, 17} {
		t.Fatalf("结果形状错误: %v %v", kShape, sShape)
	}
	for _, kp := range res.KeyPoints[0] {
		if kp != [2]float32{150, 200} {
			t.Fatalf("关键点应在检测框中心, 实际 %v", kp)
		}
	}

	tm := res.Timing
	if tm.NumBoxes != 1 || tm.Prep != time.Millisecond || tm.Model != 2*time.Millisecond {
		t.Fatalf("耗时记录错误: %+v", tm)
	}
	if tm.Total != tm.Preprocess+tm.Prep+tm.Model+tm.Postprocess {
		t.Fatalf("Total 应为各阶段之和: %+v", tm)
	}
}

func TestEngine_PredictSwap(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	img := gradientImage(640, 480)
	a := BBox{X1: 20, Y1: 30, X2: 120, Y2: 200}
	b := BBox{X1: 300, Y1: 100, X2: 500, Y2: 460}

	ab, err := engine.Predict(img, []BBox{a, b})
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	ba, err := engine.Predict(img, []BBox{b, a})
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	for k := 0; k < 17; k++ {
		if ab.KeyPoints[0][k] != ba.KeyPoints[1][k] || ab.KeyPoints[1][k] != ba.KeyPoints[0][k] {
			t.Fatalf("交换检测框后关键点 %d 未对应交换", k)
		}
		if ab.Scores[0][k] != ba.Scores[1][k] || ab.Scores[1][k] != ba.Scores[0][k] {
			t.Fatalf("交换检测框后置信度 %d 未对应交换", k)
		}
	}
}

func TestEngine_PredictPermutation(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	img := gradientImage(640, 480)
	rng := rand.New(rand.NewSource(7))

	boxes := make([]BBox, 6)
	for i := range boxes {
		x1, y1 := rng.Float64()*500, rng.Float64()*350
		boxes[i] = BBox{X1: x1, Y1: y1, X2: x1 + 20 + rng.Float64()*120, Y2: y1 + 20 + rng.Float64()*120}
	}
	base, err := engine.Predict(img, boxes)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}

	for round := 0; round < 5; round++ {
		perm := rng.Perm(len(boxes))
		permuted := make([]BBox, len(boxes))
		for i, p := range perm {
			permuted[i] = boxes[p]
		}
		res, err := engine.Predict(img, permuted)
		if err != nil {
			t.Fatalf("预测失败: %v", err)
		}
		for i, p := range perm {
			for k := 0; k < 17; k++ {
				if res.KeyPoints[i][k] != base.KeyPoints[p][k] || res.Scores[i][k] != base.Scores[p][k] {
					t.Fatalf("排列 %v: 第 %d 行应等于原第 %d 行", perm, i, p)
				}
			}
			if res.Boxes[i] != boxes[p] {
				t.Fatalf("结果中的检测框顺序错误")
			}
		}
	}
}

func TestEngine_PredictDeterministic(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *Config) {
		d := DefaultConfig()
		c.Mean, c.Std = d.Mean, d.Std
	})
	img := gradientImage(320, 240)
	boxes := []BBox{{X1: 10, Y1: 10, X2: 100, Y2: 200}}

	a, err := engine.Predict(img, boxes)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	b, err := engine.Predict(img, boxes)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	for k := range a.KeyPoints[0] {
		if a.KeyPoints[0][k] != b.KeyPoints[0][k] || a.Scores[0][k] != b.Scores[0][k] {
			t.Fatalf("两次预测结果不一致")
		}
	}
}

func TestEngine_PredictOpenPose(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *Config) { c.ToOpenPose = true })
	res, err := engine.Predict(gradientImage(640, 480), []BBox{{X1: 100, Y1: 100, X2: 200, Y2: 300}})
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}
	if kShape, sShape := res.Shape(); kShape != [3]int{1, 18, 2} || sShape != [2]int{1, 18} {
		t.Fatalf("OpenPose 结果形状错误: %v %v", kShape, sShape)
	}
	if len(res.Poses()[0].KeyPoints) != 18 {
		t.Fatalf("Poses 关键点数量错误")
	}
}

func TestEngine_PredictErrors(t *testing.T) {
	engine, r := newTestEngine(t, nil)
	img := gradientImage(64, 64)

	_, err := engine.Predict(img, []BBox{{X1: 0, Y1: 0, X2: 10, Y2: 10}, {X1: 10, Y1: 0, X2: 5, Y2: 10}})
	if !errors.Is(err, ErrInvalidBox) {
		t.Fatalf("期望 ErrInvalidBox, 实际 %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("检测框不合法时不应调用模型")
	}

	if _, err := engine.Predict(nil, []BBox{{X2: 10, Y2: 10}}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("期望 ErrInvalidFrame, 实际 %v", err)
	}
	if _, err := engine.Predict(image.NewRGBA(image.Rect(0, 0, 0, 0)), []BBox{{X2: 10, Y2: 10}}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("期望 ErrInvalidFrame, 实际 %v", err)
	}

	boom := errors.New("boom")
	r.err = boom
	if _, err := engine.Predict(img, []BBox{{X2: 10, Y2: 10}}); !errors.Is(err, boom) {
		t.Fatalf("模型错误应原样返回, 实际 %v", err)
	}
}

func TestEngine_KeyPointMismatch(t *testing.T) {
	engine, r := newTestEngine(t, nil)
	r.k = 133
	if _, err := engine.Predict(gradientImage(64, 64), []BBox{{X2: 10, Y2: 10}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("期望 ErrShapeMismatch, 实际 %v", err)
	}
}

func TestEngine_Destroy(t *testing.T) {
	engine, r := newTestEngine(t, nil)
	if err := engine.Destroy(); err != nil {
		t.Fatalf("释放失败: %v", err)
	}
	if !r.destroyed {
		t.Fatalf("Runner 未释放")
	}
	if err := engine.Destroy(); err != nil {
		t.Fatalf("重复释放不应报错: %v", err)
	}
	if _, err := engine.Predict(gradientImage(8, 8), []BBox{{X2: 4, Y2: 4}}); err == nil {
		t.Fatalf("释放后预测应报错")
	}
}

func TestNewEngine_ConfigErrors(t *testing.T) {
	cfg := DefaultBodyConfig()
	cfg.InputWidth = 0
	if _, err := NewEngine(cfg); err == nil {
		t.Fatalf("配置错误时不应创建引擎")
	}

	cfg = DefaultBodyConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	if _, err := NewEngineContext(context.Background(), cfg); !errors.Is(err, modelhub.ErrModelNotFound) {
		t.Fatalf("期望 ErrModelNotFound, 实际 %v", err)
	}

	model := filepath.Join(t.TempDir(), "rtmpose.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg = DefaultBodyConfig()
	cfg.ModelPath = model
	cfg.ModelProvider = modelhub.Local{}
	cfg.Backend, cfg.Device = backend.KindOpenVINO, backend.DeviceCUDA
	if _, err := NewEngine(cfg); !errors.Is(err, backend.ErrUnsupportedBackend) {
		t.Fatalf("期望 ErrUnsupportedBackend, 实际 %v", err)
	}

	if _, err := NewEngineWithRunner(DefaultBodyConfig(), nil); err == nil {
		t.Fatalf("Runner 为空时应报错")
	}
}
