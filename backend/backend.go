// Package backend 封装模型加载与前向推理, 支持 onnxruntime / openvino / opencv 三种后端
//
// 后端与设备在构造时通过显式的 ProviderTable 解析, 组合不受支持时直接报错,
// 不会回退到其他后端.
package backend

import (
	"errors"
	"fmt"
	"github.com/getcharzp/go-pose"
	"github.com/getcharzp/go-pose/tensor"
	"github.com/sirupsen/logrus"
	"os"
	"time"
)

var (
	// ErrUnsupportedBackend 后端与设备组合不受支持
	ErrUnsupportedBackend = errors.New("backend: 不支持的后端或设备")
	// ErrBackendUnavailable 后端依赖的运行库未编译或未安装
	ErrBackendUnavailable = errors.New("backend: 后端不可用")
	// ErrInvalidRank 输入既不是 HWC 也不是 NCHW
	ErrInvalidRank = errors.New("backend: 输入维度错误")
	// ErrInvalidOutput 模型输出不符合 SimCC 约定
	ErrInvalidOutput = errors.New("backend: 模型输出错误")
)

// Kind 推理后端
type Kind string

const (
	KindOnnxRuntime Kind = "onnxruntime"
	KindOpenVINO    Kind = "openvino"
	KindOpenCV      Kind = "opencv"
)

// Device 计算设备
type Device string

const (
	DeviceCPU      Device = "cpu"
	DeviceCUDA     Device = "cuda"
	DeviceTensorRT Device = "tensorrt"
	DeviceCoreML   Device = "coreml"
	DeviceMPS      Device = "mps" // CoreML 的别名
	DeviceDirectML Device = "directml"
)

// OpenCV DNN 的 Backend/Target 取值, 与 cv::dnn 枚举一致
const (
	NetBackendDefault = 0
	NetBackendOpenCV  = 3
	NetBackendCUDA    = 5

	NetTargetCPU      = 0
	NetTargetCUDA     = 6
	NetTargetCUDAFP16 = 7
)

// Provider 某个后端在某个设备上的具体参数
type Provider struct {
	ExecutionProvider string            // onnxruntime / openvino 使用
	ProviderOptions   map[string]string // 执行提供者附加参数
	NetBackend        int               // opencv 使用
	NetTarget         int               // opencv 使用
}

// ProviderTable 后端 -> 设备 -> 参数 的查找表
type ProviderTable map[Kind]map[Device]Provider

// DefaultProviders 默认查找表
func DefaultProviders() ProviderTable {
	return ProviderTable{
		KindOnnxRuntime: {
			DeviceCPU:      {ExecutionProvider: pose.ProviderCPU},
			DeviceCUDA:     {ExecutionProvider: pose.ProviderCUDA},
			DeviceTensorRT: {ExecutionProvider: pose.ProviderTensorRT},
			DeviceCoreML:   {ExecutionProvider: pose.ProviderCoreML},
			DeviceMPS:      {ExecutionProvider: pose.ProviderCoreML},
			DeviceDirectML: {ExecutionProvider: pose.ProviderDirectML},
		},
		// OpenVINO 仅支持 CPU
		KindOpenVINO: {
			DeviceCPU: {
				ExecutionProvider: pose.ProviderOpenVINO,
				ProviderOptions:   map[string]string{"device_type": "CPU"},
			},
		},
		KindOpenCV: {
			DeviceCPU:  {NetBackend: NetBackendOpenCV, NetTarget: NetTargetCPU},
			DeviceCUDA: {NetBackend: NetBackendCUDA, NetTarget: NetTargetCUDA},
		},
	}
}

// Lookup 查找后端与设备对应的参数
func (t ProviderTable) Lookup(kind Kind, device Device) (Provider, error) {
	devices, ok := t[kind]
	if !ok {
		return Provider{}, fmt.Errorf("%w: backend=%q", ErrUnsupportedBackend, kind)
	}
	p, ok := devices[device]
	if !ok {
		return Provider{}, fmt.Errorf("%w: backend=%q device=%q", ErrUnsupportedBackend, kind, device)
	}
	return p, nil
}

// Options 后端初始化参数
type Options struct {
	ModelPath          string // ONNX 模型路径
	OnnxRuntimeLibPath string // ONNX Runtime 动态库路径

	Backend Kind
	Device  Device

	// 可选参数
	DeviceID          int
	NumThreads        int
	EnableCpuMemArena bool
	Providers         ProviderTable      // 为空时使用 DefaultProviders()
	Logger            logrus.FieldLogger // 为空时使用 logrus 标准 logger
}

// Output SimCC 格式的模型输出
type Output struct {
	SimCCX *tensor.Tensor // (N, K, Wx)
	SimCCY *tensor.Tensor // (N, K, Hy)
}

// Validate 检查输出形状与批大小
func (o *Output) Validate(batch int) error {
	if o == nil || o.SimCCX == nil || o.SimCCY == nil {
		return fmt.Errorf("%w: 输出为空", ErrInvalidOutput)
	}
	for _, t := range []*tensor.Tensor{o.SimCCX, o.SimCCY} {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if t.Rank() != 3 {
			return fmt.Errorf("%w: 期望 3 维, 实际 %v", ErrInvalidOutput, t.Shape)
		}
	}
	if o.SimCCX.Dim(0) != batch || o.SimCCY.Dim(0) != batch {
		return fmt.Errorf("%w: 批大小 %d 与输出 %v / %v 不一致", ErrInvalidOutput, batch, o.SimCCX.Shape, o.SimCCY.Shape)
	}
	if o.SimCCX.Dim(1) != o.SimCCY.Dim(1) {
		return fmt.Errorf("%w: 关键点数不一致 %v / %v", ErrInvalidOutput, o.SimCCX.Shape, o.SimCCY.Shape)
	}
	return nil
}

// Forwarder 单个后端的前向推理实现, 输入已是 NCHW
type Forwarder interface {
	Forward(input *tensor.Tensor) (*Output, error)
	Close() error
}

// RunTiming 单次推理的耗时
type RunTiming struct {
	Prep  time.Duration // 输入整理 (转置/连续化)
	Model time.Duration // 模型执行
}

// Total 总耗时
func (t RunTiming) Total() time.Duration {
	return t.Prep + t.Model
}

// Executor 持有已加载模型的推理器
//
// Executor 不支持并发调用 Run.
type Executor struct {
	forwarder Forwarder
	last      RunTiming
}

// NewExecutor 使用给定的 Forwarder 创建推理器
func NewExecutor(f Forwarder) *Executor {
	return &Executor{forwarder: f}
}

// Open 加载模型并创建推理器
func Open(opts Options) (*Executor, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("模型文件不可读: %w", err)
	}

	table := opts.Providers
	if table == nil {
		table = DefaultProviders()
	}
	p, err := table.Lookup(opts.Backend, opts.Device)
	if err != nil {
		return nil, err
	}

	var f Forwarder
	switch opts.Backend {
	case KindOnnxRuntime, KindOpenVINO:
		f, err = newOnnxForwarder(opts, p)
	case KindOpenCV:
		f, err = newOpenCVForwarder(opts, p)
	default:
		err = fmt.Errorf("%w: backend=%q", ErrUnsupportedBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"model":   opts.ModelPath,
		"backend": opts.Backend,
		"device":  opts.Device,
	}).Info("模型加载完成")

	return NewExecutor(f), nil
}

// Run 执行一次前向推理
//
// 输入为 3 维 (H, W, C) 单张图像时自动转为 (1, C, H, W); 4 维输入视为 NCHW 批次.
func (e *Executor) Run(input *tensor.Tensor) (*Output, RunTiming, error) {
	var timing RunTiming

	prepStart := time.Now()
	batch, err := prepareInput(input)
	if err != nil {
		return nil, timing, err
	}
	timing.Prep = time.Since(prepStart)

	modelStart := time.Now()
	out, err := e.forwarder.Forward(batch)
	if err != nil {
		return nil, timing, fmt.Errorf("推理失败: %w", err)
	}
	timing.Model = time.Since(modelStart)

	if err := out.Validate(batch.Dim(0)); err != nil {
		return nil, timing, err
	}

	e.last = timing
	return out, timing, nil
}

// LastTiming 最近一次 Run 的耗时
func (e *Executor) LastTiming() RunTiming {
	return e.last
}

// Destroy 释放相关资源
func (e *Executor) Destroy() error {
	if e.forwarder == nil {
		return nil
	}
	err := e.forwarder.Close()
	e.forwarder = nil
	return err
}

// prepareInput 整理为连续的 NCHW 张量
func prepareInput(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: 输入为空", ErrInvalidRank)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	switch t.Rank() {
	case 3:
		chw, err := t.HWCToCHW()
		if err != nil {
			return nil, err
		}
		return chw.Unsqueeze(), nil
	case 4:
		if t.Dim(0) == 0 {
			return nil, fmt.Errorf("%w: 空批次不应提交推理", ErrInvalidRank)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: 仅支持 3 维 (HWC) 或 4 维 (NCHW), 实际 %d 维", ErrInvalidRank, t.Rank())
	}
}
