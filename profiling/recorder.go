package profiling

import (
	"encoding/csv"
	"fmt"
	"github.com/getcharzp/go-pose/rtmpose"
	"github.com/google/uuid"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var header = []string{
	"run_id", "frame_id", "num_boxes",
	"total_ms", "preprocess_ms", "prep_ms", "model_ms", "postprocess_ms",
}

// Recorder 逐帧把耗时写入 CSV
type Recorder struct {
	w      *csv.Writer
	closer io.Closer
	runID  string
}

// NewRecorder 写入表头并返回 Recorder
func NewRecorder(w io.Writer) (*Recorder, error) {
	r := &Recorder{w: csv.NewWriter(w), runID: uuid.NewString()}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if err := r.w.Write(header); err != nil {
		return nil, fmt.Errorf("写入表头失败: %w", err)
	}
	return r, nil
}

// CreateRecorder 在 dir 下创建 <prefix>_<时间>.csv
func CreateRecorder(dir, prefix string) (*Recorder, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("创建目录失败: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", prefix, time.Now().Format("20060102_150405")))
	f, err := os.Create(name)
	if err != nil {
		return nil, "", fmt.Errorf("创建文件失败: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	return r, name, nil
}

// RunID 本次运行的唯一标识, 写在每一行
func (r *Recorder) RunID() string {
	return r.runID
}

// Record 写入一帧
func (r *Recorder) Record(frameID int, t rtmpose.Timing) error {
	row := make([]string, 0, len(header))
	row = append(row, r.runID, strconv.Itoa(frameID), strconv.Itoa(t.NumBoxes))
	for _, d := range timingValues(t) {
		row = append(row, strconv.FormatFloat(toMillis(d), 'f', 3, 64))
	}
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("写入耗时失败: %w", err)
	}
	return nil
}

// Close 刷新缓冲, 底层 writer 可关闭时一并关闭
func (r *Recorder) Close() error {
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
