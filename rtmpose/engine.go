// Package rtmpose 基于 RTMPose (SimCC) 的批量关键点推理
//
// 输入一帧图像与若干检测框, 输出每个检测框对应的关键点坐标与置信度.
package rtmpose

import (
	"context"
	"fmt"
	"github.com/getcharzp/go-pose/backend"
	"github.com/getcharzp/go-pose/modelhub"
	"github.com/getcharzp/go-pose/tensor"
	"github.com/sirupsen/logrus"
	"github.com/up-zero/gotool/convertutil"
	"image"
	"time"
)

// Runner 前向推理能力, *backend.Executor 实现了该接口
type Runner interface {
	Run(input *tensor.Tensor) (*backend.Output, backend.RunTiming, error)
	Destroy() error
}

// Engine RTMPose Engine
//
// Engine 不支持并发调用 Predict.
type Engine struct {
	runner Runner
	config Config
	log    logrus.FieldLogger
}

// NewEngine 初始化姿态引擎
func NewEngine(cfg Config) (*Engine, error) {
	return NewEngineContext(context.Background(), cfg)
}

// NewEngineContext 初始化姿态引擎, ctx 用于模型下载
func NewEngineContext(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	log := cfg.logger()

	provider := cfg.ModelProvider
	if provider == nil {
		provider = modelhub.Default(cfg.RegistryURL, cfg.CacheDir)
	}
	modelPath, err := provider.Resolve(ctx, cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("获取模型失败: %w", err)
	}

	opts := backend.Options{}
	if err := convertutil.CopyProperties(cfg, &opts); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	opts.ModelPath = modelPath
	opts.Logger = log

	exec, err := backend.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{runner: exec, config: cfg, log: log}, nil
}

// NewEngineWithRunner 使用给定的 Runner 初始化引擎
func NewEngineWithRunner(cfg Config, r Runner) (*Engine, error) {
	if r == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	return &Engine{runner: r, config: cfg, log: cfg.logger()}, nil
}

// Config 返回引擎配置
func (e *Engine) Config() Config {
	return e.config
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	if e.runner == nil {
		return nil
	}
	err := e.runner.Destroy()
	e.runner = nil
	return err
}

// Predict 对每个检测框执行关键点估计
//
// 结果的第 i 行对应 boxes[i]. boxes 为空时不调用模型, 直接返回空结果.
func (e *Engine) Predict(img image.Image, boxes []BBox) (*Result, error) {
	k := e.config.outputKeyPoints()
	if len(boxes) == 0 {
		return emptyResult(k), nil
	}
	if e.runner == nil {
		return nil, fmt.Errorf("引擎已释放")
	}
	for i, b := range boxes {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("第 %d 个检测框: %w", i, err)
		}
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidFrame
	}

	timing := Timing{NumBoxes: len(boxes)}

	// 预处理
	preStart := time.Now()
	input, centerScales, err := e.preprocess(img, boxes)
	if err != nil {
		return nil, fmt.Errorf("预处理失败: %w", err)
	}
	timing.Preprocess = time.Since(preStart)

	// 推理
	out, rt, err := e.runner.Run(input)
	if err != nil {
		return nil, err
	}
	timing.Prep, timing.Model = rt.Prep, rt.Model

	// 后处理
	postStart := time.Now()
	kpts, scores, err := e.postprocess(out, centerScales)
	if err != nil {
		return nil, fmt.Errorf("后处理失败: %w", err)
	}
	timing.Postprocess = time.Since(postStart)
	timing.Total = timing.Preprocess + timing.Prep + timing.Model + timing.Postprocess

	e.log.WithFields(logrus.Fields{
		"boxes":       len(boxes),
		"preprocess":  timing.Preprocess,
		"model":       timing.Model,
		"postprocess": timing.Postprocess,
	}).Debug("姿态估计完成")

	return &Result{
		NumKeyPoints: k,
		Boxes:        append([]BBox(nil), boxes...),
		KeyPoints:    kpts,
		Scores:       scores,
		Timing:       timing,
	}, nil
}

// preprocess 裁剪 + 归一化 + 组批, 返回 NCHW 张量
func (e *Engine) preprocess(img image.Image, boxes []BBox) (*tensor.Tensor, []CenterScale, error) {
	w, h := e.config.InputWidth, e.config.InputHeight
	frame := asNRGBA(img)

	crops := make([]*Crop, len(boxes))
	centerScales := make([]CenterScale, len(boxes))
	for i, b := range boxes {
		crop, cs, err := ToCrop(frame, b, e.config.Padding, w, h, e.config.ChannelOrder)
		if err != nil {
			return nil, nil, err
		}
		crop.Normalize(e.config.Mean, e.config.Std)
		crops[i], centerScales[i] = crop, cs
	}

	batch, err := Stack(crops, w, h)
	if err != nil {
		return nil, nil, err
	}
	nchw, err := batch.NHWCToNCHW()
	if err != nil {
		return nil, nil, err
	}
	return nchw, centerScales, nil
}

// postprocess SimCC 解码, 可选转为 OpenPose 布局
func (e *Engine) postprocess(out *backend.Output, centerScales []CenterScale) ([][][2]float32, [][]float32, error) {
	if err := out.Validate(len(centerScales)); err != nil {
		return nil, nil, err
	}
	if got := out.SimCCX.Dim(1); got != e.config.NumKeyPoints {
		return nil, nil, fmt.Errorf("%w: 模型输出 %d 个关键点, 配置为 %d", ErrShapeMismatch, got, e.config.NumKeyPoints)
	}

	kpts, scores, err := Decode(out, centerScales, e.config.InputWidth, e.config.InputHeight, e.config.SplitRatio, e.config.ScoreMode)
	if err != nil {
		return nil, nil, err
	}
	if e.config.ToOpenPose {
		return ToOpenPose(kpts, scores)
	}
	return kpts, scores, nil
}
