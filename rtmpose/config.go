package rtmpose

import (
	"fmt"
	"github.com/getcharzp/go-pose"
	"github.com/getcharzp/go-pose/backend"
	"github.com/getcharzp/go-pose/modelhub"
	"github.com/sirupsen/logrus"
)

// ScoreMode SimCC 最大值的归一化方式
type ScoreMode string

const (
	ScoreRaw     ScoreMode = "raw"     // 直接使用最大值, 截断到 [0,1]
	ScoreSoftmax ScoreMode = "softmax" // 使用 softmax 后的概率
)

// ChannelOrder 输入张量的通道顺序
type ChannelOrder string

const (
	ChannelBGR ChannelOrder = "bgr"
	ChannelRGB ChannelOrder = "rgb"
)

// COCO 关键点数量
const NumCOCOKeyPoints = 17

// NumOpenPoseKeyPoints OpenPose 布局 (COCO + neck)
const NumOpenPoseKeyPoints = 18

// Config 引擎的初始化参数
type Config struct {
	ModelPath          string `yaml:"model_path"`           // ONNX 模型路径或文件名
	OnnxRuntimeLibPath string `yaml:"onnxruntime_lib_path"` // ONNX Runtime 动态库路径

	// 模型参数
	InputWidth   int          `yaml:"input_width"`   // 默认 192
	InputHeight  int          `yaml:"input_height"`  // 默认 256
	NumKeyPoints int          `yaml:"num_keypoints"` // 默认 17
	Mean         []float32    `yaml:"mean"`          // 按 ChannelOrder 排列, 为空时不做归一化
	Std          []float32    `yaml:"std"`
	ChannelOrder ChannelOrder `yaml:"channel_order"` // 默认 bgr

	// 推理参数
	Padding    float64   `yaml:"padding"`     // 检测框扩展系数 (默认 1.25)
	SplitRatio float64   `yaml:"split_ratio"` // SimCC 分辨率倍数 (默认 2.0)
	ScoreMode  ScoreMode `yaml:"score_mode"`  // 默认 raw
	ToOpenPose bool      `yaml:"to_openpose"` // 输出 OpenPose 18 点布局

	// 后端
	Backend           backend.Kind          `yaml:"backend"` // onnxruntime / openvino / opencv
	Device            backend.Device        `yaml:"device"`  // cpu / cuda / tensorrt / coreml / directml
	DeviceID          int                   `yaml:"device_id"`
	NumThreads        int                   `yaml:"num_threads"`          // (可选) ONNX 线程数
	EnableCpuMemArena bool                  `yaml:"enable_cpu_mem_arena"` // (可选) 是否开启 ONNX 内存池
	Providers         backend.ProviderTable `yaml:"-"`                    // (可选) 自定义后端查找表

	// 模型下载
	RegistryURL   string             `yaml:"registry_url"` // 模型文件不存在时的下载地址
	CacheDir      string             `yaml:"cache_dir"`
	ModelProvider modelhub.Provider  `yaml:"-"` // (可选) 自定义模型解析
	Logger        logrus.FieldLogger `yaml:"-"`
}

// DefaultConfig 默认配置, 对应 RTMPose 256x192 COCO 模型
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: pose.DefaultLibraryPath(),
		InputWidth:         192,
		InputHeight:        256,
		NumKeyPoints:       NumCOCOKeyPoints,
		Mean:               []float32{123.675, 116.28, 103.53},
		Std:                []float32{58.395, 57.12, 57.375},
		ChannelOrder:       ChannelBGR,
		Padding:            1.25,
		SplitRatio:         2.0,
		ScoreMode:          ScoreRaw,
		Backend:            backend.KindOnnxRuntime,
		Device:             backend.DeviceCPU,
	}
}

// DefaultBodyConfig RTMPose-m 256x192 的默认配置
func DefaultBodyConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelPath = "./rtmpose_weights/rtmpose-m-256-192.onnx"
	return cfg
}

// DefaultBody384Config RTMPose-l 384x288 的默认配置
func DefaultBody384Config() Config {
	cfg := DefaultConfig()
	cfg.InputWidth = 288
	cfg.InputHeight = 384
	cfg.ModelPath = "./rtmpose_weights/rtmpose-l-384-288.onnx"
	return cfg
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("ModelPath 不能为空")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("输入尺寸错误: %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.NumKeyPoints <= 0 {
		return fmt.Errorf("关键点数量错误: %d", c.NumKeyPoints)
	}
	if c.ToOpenPose && c.NumKeyPoints != NumCOCOKeyPoints {
		return fmt.Errorf("OpenPose 转换需要 %d 个 COCO 关键点, 实际 %d", NumCOCOKeyPoints, c.NumKeyPoints)
	}
	if (c.Mean == nil) != (c.Std == nil) {
		return fmt.Errorf("Mean 与 Std 需同时设置")
	}
	if c.Mean != nil {
		if len(c.Mean) != 3 || len(c.Std) != 3 {
			return fmt.Errorf("Mean/Std 需要 3 个通道, 实际 %d/%d", len(c.Mean), len(c.Std))
		}
		for _, s := range c.Std {
			if s == 0 {
				return fmt.Errorf("Std 不能为 0")
			}
		}
	}
	switch c.ChannelOrder {
	case ChannelBGR, ChannelRGB:
	default:
		return fmt.Errorf("不支持的通道顺序: %q", c.ChannelOrder)
	}
	if c.Padding <= 0 {
		return fmt.Errorf("Padding 必须大于 0")
	}
	if c.SplitRatio <= 0 {
		return fmt.Errorf("SplitRatio 必须大于 0")
	}
	switch c.ScoreMode {
	case ScoreRaw, ScoreSoftmax:
	default:
		return fmt.Errorf("不支持的得分模式: %q", c.ScoreMode)
	}
	return nil
}

// outputKeyPoints 结果中的关键点数量
func (c *Config) outputKeyPoints() int {
	if c.ToOpenPose {
		return NumOpenPoseKeyPoints
	}
	return c.NumKeyPoints
}

func (c *Config) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
