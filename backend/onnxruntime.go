package backend

import (
	"fmt"
	"github.com/getcharzp/go-pose"
	"github.com/getcharzp/go-pose/tensor"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
	"strings"
)

// onnxForwarder onnxruntime 会话, openvino 后端通过 OpenVINO 执行提供者复用该实现
type onnxForwarder struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
}

func newOnnxForwarder(opts Options, p Provider) (Forwarder, error) {
	oc := new(pose.OnnxConfig)
	if err := convertutil.CopyProperties(opts, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	oc.ExecutionProvider = p.ExecutionProvider
	oc.ProviderOptions = p.ProviderOptions

	// 初始化 ONNX
	if err := oc.New(); err != nil {
		return nil, err
	}
	defer oc.Destroy()

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("读取模型输入输出失败: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 2 {
		return nil, fmt.Errorf("%w: 期望 1 个输入 2 个输出, 实际 %d / %d", ErrInvalidOutput, len(inputs), len(outputs))
	}
	outputNames := simccOutputNames(outputs)

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath, []string{inputs[0].Name}, outputNames, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 ONNX 会话失败: %w", err)
	}

	return &onnxForwarder{
		session:     session,
		inputName:   inputs[0].Name,
		outputNames: outputNames,
	}, nil
}

// simccOutputNames 按名称匹配 simcc_x / simcc_y, 匹配不到时按输出顺序
func simccOutputNames(outputs []ort.InputOutputInfo) []string {
	names := []string{outputs[0].Name, outputs[1].Name}
	for _, o := range outputs {
		lower := strings.ToLower(o.Name)
		switch {
		case strings.HasSuffix(lower, "simcc_x"):
			names[0] = o.Name
		case strings.HasSuffix(lower, "simcc_y"):
			names[1] = o.Name
		}
	}
	return names
}

// Forward 执行推理
func (f *onnxForwarder) Forward(input *tensor.Tensor) (*Output, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("创建 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(f.outputNames))
	if err := f.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	simccX, err := copyValue(outputs[0])
	if err != nil {
		return nil, err
	}
	simccY, err := copyValue(outputs[1])
	if err != nil {
		return nil, err
	}
	return &Output{SimCCX: simccX, SimCCY: simccY}, nil
}

// Close 释放会话
func (f *onnxForwarder) Close() error {
	if f.session == nil {
		return nil
	}
	err := f.session.Destroy()
	f.session = nil
	return err
}

// copyValue 复制输出数据, 使其在 ort.Value 销毁后仍然可用
func copyValue(v ort.Value) (*tensor.Tensor, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: 输出不是 float32 张量", ErrInvalidOutput)
	}
	data := append([]float32(nil), t.GetData()...)
	return tensor.New(t.GetShape(), data)
}
