// Package output 把逐帧的姿态结果写成 msgpack 流
//
// 每条记录为 4 字节大端长度前缀 + msgpack 数据.
package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/getcharzp/go-pose/rtmpose"
	"github.com/vmihailenco/msgpack/v5"
	"io"
	"time"
)

// TimingRecord 单帧耗时, 单位毫秒
type TimingRecord struct {
	Total       float64 `msgpack:"total"`
	Preprocess  float64 `msgpack:"preprocess"`
	Prep        float64 `msgpack:"prep"`
	Model       float64 `msgpack:"model"`
	Postprocess float64 `msgpack:"postprocess"`
	NumBoxes    int     `msgpack:"num_boxes"`
}

// FrameRecord 一帧的结果
type FrameRecord struct {
	FrameID   int            `msgpack:"frame_id"`
	Image     string         `msgpack:"image"`
	TrackIDs  []int          `msgpack:"track_ids,omitempty"`
	Boxes     [][4]float64   `msgpack:"boxes"`
	KeyPoints [][][2]float32 `msgpack:"keypoints"` // (N, K, 2)
	Scores    [][]float32    `msgpack:"scores"`    // (N, K)
	Timing    TimingRecord   `msgpack:"timing"`
}

// NewFrameRecord 由推理结果构造记录
func NewFrameRecord(frameID int, image string, trackIDs []int, res *rtmpose.Result) FrameRecord {
	boxes := make([][4]float64, len(res.Boxes))
	for i, b := range res.Boxes {
		boxes[i] = [4]float64{b.X1, b.Y1, b.X2, b.Y2}
	}
	t := res.Timing
	return FrameRecord{
		FrameID:   frameID,
		Image:     image,
		TrackIDs:  trackIDs,
		Boxes:     boxes,
		KeyPoints: res.KeyPoints,
		Scores:    res.Scores,
		Timing: TimingRecord{
			Total:       millis(t.Total),
			Preprocess:  millis(t.Preprocess),
			Prep:        millis(t.Prep),
			Model:       millis(t.Model),
			Postprocess: millis(t.Postprocess),
			NumBoxes:    t.NumBoxes,
		},
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Writer 写入记录
type Writer struct {
	w *bufio.Writer
	c io.Closer
	n int
}

// NewWriter 创建 Writer, w 可关闭时由 Close 一并关闭
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		wr.c = c
	}
	return wr
}

// Write 写入一条记录
func (w *Writer) Write(rec FrameRecord) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("编码结果失败: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("写入长度失败: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	w.n++
	return nil
}

// Count 已写入的记录数
func (w *Writer) Count() int {
	return w.n
}

// Close 刷新缓冲并关闭
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader 读取记录
type Reader struct {
	r *bufio.Reader
}

// NewReader 创建 Reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next 读取下一条记录, 结束时返回 io.EOF
func (r *Reader) Next() (FrameRecord, error) {
	var rec FrameRecord

	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return rec, fmt.Errorf("读取长度失败: %w", err)
		}
		return rec, err
	}
	data := make([]byte, binary.BigEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r.r, data); err != nil {
		return rec, fmt.Errorf("读取结果失败: %w", err)
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("解码结果失败: %w", err)
	}
	return rec, nil
}

// ReadAll 读取全部记录
func ReadAll(r io.Reader) ([]FrameRecord, error) {
	rd := NewReader(r)
	var records []FrameRecord
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
