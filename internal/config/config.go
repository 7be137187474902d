// Package config 读取 rtmpose 命令行的 YAML 任务文件
package config

import (
	"fmt"
	"github.com/getcharzp/go-pose/rtmpose"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
)

// Job 一次批处理任务
type Job struct {
	Model       rtmpose.Config `yaml:"model"`        // 未填写的字段使用 rtmpose.DefaultBodyConfig
	NoNormalize bool           `yaml:"no_normalize"` // 不做 mean/std 归一化
	Warmup      int            `yaml:"warmup"`       // 不参与耗时统计的帧数 (默认 1)
	Frames      []Frame        `yaml:"frames"`
	Output      OutputConfig   `yaml:"output"`
}

// Frame 一帧图像及其检测框
type Frame struct {
	Image    string       `yaml:"image"`               // 相对路径以任务文件所在目录为准
	Boxes    [][4]float64 `yaml:"boxes"`               // [[x1, y1, x2, y2], ...]
	TrackIDs []int        `yaml:"track_ids,omitempty"` // (可选) 与 boxes 一一对应
}

// OutputConfig 输出设置
type OutputConfig struct {
	Dir        string  `yaml:"dir"`         // 默认 output
	Draw       bool    `yaml:"draw"`        // 保存绘制骨架后的图片
	Quality    int     `yaml:"quality"`     // 图片质量 (默认 90)
	Threshold  float32 `yaml:"threshold"`   // 绘制关键点的置信度阈值 (默认 0.3)
	Results    string  `yaml:"results"`     // msgpack 结果文件名 (默认 results.msgpack)
	ProfileDir string  `yaml:"profile_dir"` // 为空时不记录 CSV
}

// Load 读取并校验任务文件
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}

	job := &Job{Model: rtmpose.DefaultBodyConfig(), Warmup: 1}
	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}
	if job.NoNormalize {
		job.Model.Mean, job.Model.Std = nil, nil
	}

	base := filepath.Dir(path)
	for i := range job.Frames {
		if img := job.Frames[i].Image; img != "" && !filepath.IsAbs(img) {
			job.Frames[i].Image = filepath.Join(base, img)
		}
	}

	if err := Validate(job); err != nil {
		return nil, fmt.Errorf("任务文件错误: %w", err)
	}
	return job, nil
}

// Validate 检查任务并补全默认值
func Validate(job *Job) error {
	if err := job.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if len(job.Frames) == 0 {
		return fmt.Errorf("frames 不能为空")
	}
	for i, f := range job.Frames {
		if f.Image == "" {
			return fmt.Errorf("frames[%d].image 不能为空", i)
		}
		if len(f.TrackIDs) > 0 && len(f.TrackIDs) != len(f.Boxes) {
			return fmt.Errorf("frames[%d]: track_ids 数量 %d 与 boxes 数量 %d 不一致", i, len(f.TrackIDs), len(f.Boxes))
		}
		for j, b := range f.BBoxes() {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("frames[%d].boxes[%d]: %w", i, j, err)
			}
		}
	}
	if job.Warmup < 0 {
		job.Warmup = 0
	}

	if job.Output.Dir == "" {
		job.Output.Dir = "output"
	}
	if job.Output.Quality <= 0 || job.Output.Quality > 100 {
		job.Output.Quality = 90
	}
	if job.Output.Threshold <= 0 {
		job.Output.Threshold = 0.3
	}
	if job.Output.Results == "" {
		job.Output.Results = "results.msgpack"
	}
	return nil
}

// BBoxes 转为 rtmpose 检测框
func (f Frame) BBoxes() []rtmpose.BBox {
	boxes := make([]rtmpose.BBox, len(f.Boxes))
	for i, b := range f.Boxes {
		boxes[i] = rtmpose.BBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}
	return boxes
}
